package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"enginegate/internal/budget"
	"enginegate/internal/routing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the cross-field rules tags cannot
// express. It reports every problem found, one per line.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fieldProblem(fe))
		}
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			continue
		}
		if seen[b.ID] {
			problems = append(problems, fmt.Sprintf("backends: duplicate id %q", b.ID))
		}
		seen[b.ID] = true
	}

	if _, err := c.policies(); err != nil {
		problems = append(problems, "routing.policies: "+err.Error())
	}
	w, err := budget.ParseWindow(c.Budget.Window)
	if err != nil {
		problems = append(problems, "budget.window: "+err.Error())
	} else if w == budget.Rolling && c.Budget.RollingWindow <= 0 {
		problems = append(problems, "budget.rolling_window: required for a rolling window")
	}

	if d, r := c.Routing.DispatchTimeout, c.RequestTimeout; d > 0 && r > 0 && d > r {
		problems = append(problems, fmt.Sprintf("routing.dispatch_timeout: %s is longer than request_timeout %s", d.D(), r.D()))
	}

	pr := c.PortRange
	if (pr.Start == 0) != (pr.End == 0) {
		problems = append(problems, "port_range: start and end must be set together")
	} else if pr.Start > pr.End {
		problems = append(problems, fmt.Sprintf("port_range: start %d is after end %d", pr.Start, pr.End))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
}

func fieldProblem(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", ns, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s", ns, fe.Tag())
}

// policies parses the configured chain, rejecting unknown or repeated names.
func (c Config) policies() ([]routing.Policy, error) {
	if len(c.Routing.Policies) == 0 {
		return routing.DefaultPolicies(), nil
	}
	out := make([]routing.Policy, 0, len(c.Routing.Policies))
	seen := map[routing.Policy]bool{}
	for _, s := range c.Routing.Policies {
		p, err := routing.ParsePolicy(s)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("policy %q listed twice", p)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}
