package doctor

import (
	"context"
	"sync"
	"time"
)

// identityTimeout bounds the STS call.
const identityTimeout = 15 * time.Second

// Checker provides dependency checking functionality.
type Checker struct {
	executor   CommandExecutor
	env        EnvGetter
	identity   IdentityFunc
	ansibleBin string
}

// Option configures a Checker.
type Option func(*Checker)

// WithExecutor sets the command executor (for testing).
func WithExecutor(exec CommandExecutor) Option {
	return func(c *Checker) {
		c.executor = exec
	}
}

// WithEnv sets the environment lookup (for testing).
func WithEnv(env EnvGetter) Option {
	return func(c *Checker) {
		c.env = env
	}
}

// WithIdentity enables the online AWS identity check.
func WithIdentity(fn IdentityFunc) Option {
	return func(c *Checker) {
		c.identity = fn
	}
}

// WithAnsibleBin sets the ansible-playbook executable to check.
func WithAnsibleBin(bin string) Option {
	return func(c *Checker) {
		c.ansibleBin = bin
	}
}

// NewChecker creates a new Checker with the real command executor.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		executor:   &RealExecutor{},
		env:        &RealEnvGetter{},
		ansibleBin: "ansible-playbook",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll runs all checks and returns groups with results.
func (c *Checker) CheckAll(ctx context.Context) []CheckGroup {
	var result []CheckGroup
	for _, id := range GetAllGroupIDs() {
		result = append(result, c.CheckGroup(ctx, id))
	}
	return result
}

// CheckAllAsync runs all groups concurrently and returns groups with results.
func (c *Checker) CheckAllAsync(ctx context.Context) []CheckGroup {
	ids := GetAllGroupIDs()
	result := make([]CheckGroup, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result[i] = c.CheckGroup(ctx, id)
		}()
	}
	wg.Wait()
	return result
}

// CheckGroup runs all checks for a specific group.
func (c *Checker) CheckGroup(ctx context.Context, groupID string) CheckGroup {
	def, ok := GetGroupDefinition(groupID)
	if !ok {
		return CheckGroup{
			ID:   groupID,
			Name: "Unknown",
		}
	}

	group := CheckGroup{
		ID:          groupID,
		Name:        def.Name,
		Description: def.Description,
	}
	for _, checkID := range def.CheckIDs {
		group.Checks = append(group.Checks, c.GetCheck(ctx, checkID))
	}
	return group
}

// GetCheck runs a single check by ID.
func (c *Checker) GetCheck(ctx context.Context, checkID string) Check {
	switch checkID {
	case IDAnsiblePlaybook:
		return CheckAnsiblePlaybook(c.executor, c.ansibleBin)
	case IDAnsibleGalaxy:
		return CheckAnsibleGalaxy(c.executor, c.ansibleBin)
	case IDSSH:
		return CheckSSH(c.executor)
	case IDAWSCredentials:
		return CheckAWSCredentials(c.executor, c.env)
	case IDAWSIdentity:
		ctx, cancel := context.WithTimeout(ctx, identityTimeout)
		defer cancel()
		return CheckAWSIdentity(ctx, c.identity)
	default:
		return Check{
			ID:      checkID,
			Name:    checkID,
			Status:  StatusError,
			Message: "unknown check",
		}
	}
}

// Summary represents an overall health summary.
type Summary struct {
	Total    int
	OK       int
	Missing  int
	Warnings int
	Errors   int
}

// GetSummary returns a summary of check results.
func GetSummary(groups []CheckGroup) Summary {
	var summary Summary
	for _, group := range groups {
		for _, check := range group.Checks {
			summary.Total++
			switch check.Status {
			case StatusOK:
				summary.OK++
			case StatusMissing:
				summary.Missing++
			case StatusWarning:
				summary.Warnings++
			case StatusError:
				summary.Errors++
			}
		}
	}
	return summary
}

// HasIssues returns true if any checks are missing or failed.
func HasIssues(groups []CheckGroup) bool {
	summary := GetSummary(groups)
	return summary.Missing > 0 || summary.Errors > 0
}
