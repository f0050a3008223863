// Package cistar describes traffic reinforcement learning
// experiments: simulator settings, road networks, and the
// vehicle populations that drive on them.
//
// The records in this package are plain values. They are
// validated once, then copied into the scenario, environment
// and launcher constructors in the sub-packages.
package cistar
