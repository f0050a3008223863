package envs

import (
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// An Agent picks an action for each observation.
type Agent interface {
	Act(obs anyvec.Vector) anyvec.Vector
}

// A Path is one recorded episode.
type Path struct {
	Observations []anyvec.Vector
	Actions      []anyvec.Vector
	Rewards      []float64

	// Done is true if the environment ended the episode
	// before the step limit.
	Done bool
}

// TotalReward sums the rewards of the path.
func (p *Path) TotalReward() float64 {
	var sum float64
	for _, r := range p.Rewards {
		sum += r
	}
	return sum
}

// Len returns the number of steps taken.
func (p *Path) Len() int {
	return len(p.Rewards)
}

// Rollout runs agent in env for one episode of at most
// maxSteps steps.
// If maxSteps is 0, the episode runs until env ends it.
func Rollout(env Env, agent Agent, maxSteps int) (path *Path, err error) {
	defer essentials.AddCtxTo("rollout", &err)
	obs, err := env.Reset()
	if err != nil {
		return nil, err
	}
	path = &Path{}
	for maxSteps == 0 || path.Len() < maxSteps {
		action := agent.Act(obs)
		path.Observations = append(path.Observations, obs)
		path.Actions = append(path.Actions, action)
		var rew float64
		var done bool
		obs, rew, done, err = env.Step(action)
		if err != nil {
			return nil, err
		}
		path.Rewards = append(path.Rewards, rew)
		if done {
			path.Done = true
			break
		}
	}
	return path, nil
}
