package outbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidParams is returned when a parameter bag does not match its template.
var ErrInvalidParams = errors.New("outbox: invalid template params")

// ErrUnknownTemplate is returned for template ids outside the catalogue.
var ErrUnknownTemplate = errors.New("outbox: unknown template")

// Template identifies one of the fixed reminder messages.
type Template string

const (
	TemplateTMinus3  Template = "deadline_t_minus_3"
	TemplateTMinus1  Template = "deadline_t_minus_1"
	TemplateDueToday Template = "deadline_due_today"
)

// Parameter keys understood by the reminder templates.
const (
	ParamGSTIN      = "gstin"
	ParamReturnType = "returnType"
	ParamDueDate    = "dueDate"
	ParamPeriod     = "period"
)

var reminderParams = []string{ParamGSTIN, ParamReturnType, ParamDueDate, ParamPeriod}

var catalogue = map[Template][]string{
	TemplateTMinus3:  reminderParams,
	TemplateTMinus1:  reminderParams,
	TemplateDueToday: reminderParams,
}

// Templates lists the catalogue in a stable order.
func Templates() []Template {
	return []Template{TemplateTMinus3, TemplateTMinus1, TemplateDueToday}
}

// ParseTemplate validates a template id.
func ParseTemplate(raw string) (Template, error) {
	t := Template(raw)
	if _, ok := catalogue[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, raw)
	}
	return t, nil
}

// Params is the string-keyed parameter bag attached to a message.
type Params map[string]string

// Validate checks that p carries exactly the keys t requires, each non-empty.
func (t Template) Validate(p Params) error {
	required, ok := catalogue[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, string(t))
	}

	var missing []string
	for _, k := range required {
		if strings.TrimSpace(p[k]) == "" {
			missing = append(missing, k)
		}
	}

	var unknown []string
	for k := range p {
		if !contains(required, k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	switch {
	case len(missing) > 0:
		return fmt.Errorf("%w: %s missing %s", ErrInvalidParams, t, strings.Join(missing, ", "))
	case len(unknown) > 0:
		return fmt.Errorf("%w: %s does not accept %s", ErrInvalidParams, t, strings.Join(unknown, ", "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
