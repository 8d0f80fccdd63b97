package campaign

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Seconds is a delay expressed in (possibly fractional) seconds
type Seconds float64

// Duration converts the value to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// MaxDelay bounds both campaign delays
const MaxDelay = 7 * 24 * time.Hour

var delayMessage = fmt.Sprintf("must be greater than 0 and at most %.0f", MaxDelay.Seconds())

// valid reports whether s is a finite delay in (0, MaxDelay]. NaN fails
// every comparison and is rejected too.
func (s Seconds) valid() bool {
	f := float64(s)
	return f > 0 && f <= MaxDelay.Seconds()
}

// Template is a message body optionally paired with an attachment reference
type Template struct {
	Body       string `yaml:"body" json:"body"`
	Attachment string `yaml:"attachment,omitempty" json:"attachment,omitempty"`
}

// IsBlank reports whether the template has no usable body
func (t Template) IsBlank() bool {
	return strings.TrimSpace(t.Body) == ""
}

// Config describes one campaign run. The controller takes a copy at Start,
// so edits made while a run is active only apply to the next run.
type Config struct {
	Template1        Template `yaml:"template1" json:"template1"`
	Template2        Template `yaml:"template2" json:"template2"`
	Recipients       []string `yaml:"recipients" json:"recipients"`
	DelayBetween     Seconds  `yaml:"delay_between_seconds" json:"delay_between_seconds"`
	SendActionDelay  Seconds  `yaml:"send_action_delay_seconds" json:"send_action_delay_seconds"`
	MonitorRecipient string   `yaml:"monitor_recipient,omitempty" json:"monitor_recipient,omitempty"`
	MonitorMessages  []string `yaml:"monitor_messages,omitempty" json:"monitor_messages,omitempty"`
}

// phonePattern matches number-like recipient identifiers: optional leading +,
// digits with spaces, dashes or parentheses as separators.
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-()]{5,19}$`)

// minPhoneDigits is the minimum number of digits a recipient must carry
const minPhoneDigits = 6

// IsPhoneLike reports whether s looks like a phone number
func IsPhoneLike(s string) bool {
	s = strings.TrimSpace(s)
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

// ValidationError is a field-keyed set of configuration problems
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid campaign config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// Validate checks the config and returns a *ValidationError describing every
// offending field, or nil.
func (c Config) Validate() error {
	verr := &ValidationError{}

	if c.Template1.IsBlank() && c.Template2.IsBlank() {
		verr.add("templates", "at least one message template is required")
	}

	if len(c.Recipients) == 0 {
		verr.add("recipients", "at least one recipient is required")
	}
	for i, r := range c.Recipients {
		if !IsPhoneLike(r) {
			verr.add("recipients", fmt.Sprintf("recipient #%d (%q) is not a valid number", i+1, r))
			break
		}
	}

	if !c.DelayBetween.valid() {
		verr.add("delay_between_seconds", delayMessage)
	}
	if !c.SendActionDelay.valid() {
		verr.add("send_action_delay_seconds", delayMessage)
	}

	if monitor := strings.TrimSpace(c.MonitorRecipient); monitor != "" {
		if !IsPhoneLike(monitor) {
			verr.add("monitor_recipient", fmt.Sprintf("%q is not a valid number", monitor))
		}
		if len(nonBlank(c.MonitorMessages)) == 0 {
			verr.add("monitor_messages", "at least one monitor message is required when a monitor recipient is set")
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// normalized returns a trimmed deep copy safe to keep for the duration of a run
func (c Config) normalized() Config {
	out := c
	out.Recipients = make([]string, len(c.Recipients))
	for i, r := range c.Recipients {
		out.Recipients[i] = strings.TrimSpace(r)
	}
	out.MonitorRecipient = strings.TrimSpace(c.MonitorRecipient)
	out.MonitorMessages = nonBlank(c.MonitorMessages)
	return out
}

// templateFor picks the template by recipient index parity: even indexes use
// Template1, odd ones Template2. A blank choice falls back to the other one.
func (c Config) templateFor(position int) Template {
	primary, fallback := c.Template1, c.Template2
	if position%2 == 1 {
		primary, fallback = c.Template2, c.Template1
	}
	if primary.IsBlank() {
		return fallback
	}
	return primary
}

// monitorEnabled reports whether monitor messages should be logged
func (c Config) monitorEnabled() bool {
	return c.MonitorRecipient != "" && len(c.MonitorMessages) > 0
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadConfig reads a campaign definition from a YAML file. The result is not
// validated; Start does that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse campaign file: %w", err)
	}

	return cfg, nil
}
