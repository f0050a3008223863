package envs

import "github.com/unixpickle/anyvec"

// MaxStepsEnv wraps an Env and ends episodes early if
// they run longer than MaxSteps timesteps.
type MaxStepsEnv struct {
	Env
	MaxSteps int

	steps int
}

// MaxSteps wraps env so that its episodes last at most
// maxSteps timesteps.
func MaxSteps(env Env, maxSteps int) *MaxStepsEnv {
	return &MaxStepsEnv{Env: env, MaxSteps: maxSteps}
}

// Reset resets the environment.
func (m *MaxStepsEnv) Reset() (anyvec.Vector, error) {
	m.steps = 0
	return m.Env.Reset()
}

// Step takes a step in the environment.
func (m *MaxStepsEnv) Step(action anyvec.Vector) (anyvec.Vector, float64, bool, error) {
	obs, rew, done, err := m.Env.Step(action)
	m.steps++
	if m.steps == m.MaxSteps {
		done = true
	}
	return obs, rew, done, err
}

// Describe summarizes the wrapper and the wrapped Env.
func (m *MaxStepsEnv) Describe() map[string]any {
	return map[string]any{
		"type":      "max_steps",
		"max_steps": m.MaxSteps,
		"env":       Describe(m.Env),
	}
}
