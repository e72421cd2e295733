package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/sapautomation/sdaf-setup/internal/config"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/sapautomation/sdaf-setup/internal/utils"
	"github.com/sapautomation/sdaf-setup/internal/validate"
	"gopkg.in/yaml.v3"
)

// Input keys that only exist for a single run and are never persisted
const (
	KeyExistingAppID       = "existing_app_id"
	KeyExistingEnvironment = "existing_environment"
	KeyIdentityName        = "identity_name"
)

// LoadAnswers reads a flat YAML document of setup keys. Scalars of any type are kept as
// their string form so `github_app_id: 123456` works without quotes.
func LoadAnswers(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse answers file %s: %w", path, err)
	}

	answers := make(map[string]string, len(doc))
	for key, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("failed to parse answers file %s: %s must be a scalar (line %d)", path, key, node.Line)
		}
		answers[key] = strings.TrimSpace(node.Value)
	}
	return answers, nil
}

// Prompter asks the operator for a missing value
type Prompter interface {
	Prompt(label, suggestion string) (string, error)
	Secret(label string) (string, error)
	Close() error
}

type linerPrompter struct {
	state *liner.State
}

// NewPrompter returns an interactive prompter, or nil when stdin is not a terminal
func NewPrompter() Prompter {
	if !isatty.IsTerminal(os.Stdin.Fd()) || !liner.TerminalSupported() {
		return nil
	}
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &linerPrompter{state: state}
}

func (p *linerPrompter) Prompt(label, suggestion string) (string, error) {
	if suggestion != "" {
		return p.state.PromptWithSuggestion(label+": ", suggestion, -1)
	}
	return p.state.Prompt(label + ": ")
}

func (p *linerPrompter) Secret(label string) (string, error) {
	return p.state.PasswordPrompt(label + ": ")
}

func (p *linerPrompter) Close() error {
	return p.state.Close()
}

// Field describes one value the collector resolves
type Field struct {
	Key      string
	Label    string
	Secret   bool
	Required bool
	// Ask prompts for an optional value; an empty answer is accepted
	Ask   bool
	Check func(string) error
}

// Collector resolves values from merged sources and falls back to prompting
type Collector struct {
	values   map[string]string
	supplied map[string]string
	prompter Prompter
	out      io.Writer
}

// NewCollector merges the sources with precedence flags > answers > stored. A nil
// prompter makes every missing required value an error.
func NewCollector(stored, answers, flags map[string]string, prompter Prompter, out io.Writer) *Collector {
	return &Collector{
		values:   utils.MergeValues(stored, answers, flags),
		supplied: utils.MergeValues(answers, flags),
		prompter: prompter,
		out:      out,
	}
}

// Values returns the resolved values
func (c *Collector) Values() map[string]string {
	return c.values
}

// Forget drops key unless the answers file or a flag supplied it, so a value saved by
// an earlier run is asked for again
func (c *Collector) Forget(key string) {
	if c.supplied[key] == "" {
		delete(c.values, key)
	}
}

// Set overrides a value, for example one derived from another field
func (c *Collector) Set(key, value string) {
	c.values[key] = value
}

// Get resolves f. A supplied value that fails Check is an error rather than a prompt, so
// that a bad answers file never turns into an interactive session.
func (c *Collector) Get(f Field) (string, error) {
	v := strings.TrimSpace(c.values[f.Key])
	if v != "" {
		if f.Check != nil {
			if err := f.Check(v); err != nil {
				return "", fmt.Errorf("invalid %s: %w", f.Key, err)
			}
		}
		return v, nil
	}

	if !f.Required && (!f.Ask || c.prompter == nil) {
		return "", nil
	}
	if c.prompter == nil {
		return "", fmt.Errorf("%w: %s", sdaferrors.ErrMissingField, f.Key)
	}

	label := f.Label
	if !f.Required {
		label += " (optional)"
	}
	for {
		var err error
		if f.Secret {
			v, err = c.prompter.Secret(label)
		} else {
			v, err = c.prompter.Prompt(label, "")
		}
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("input aborted at %s: %w", f.Key, err)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", f.Key, err)
		}

		v = strings.TrimSpace(v)
		if v == "" {
			if !f.Required {
				return "", nil
			}
			fmt.Fprintf(c.out, "%s is required\n", f.Label)
			continue
		}
		if f.Check != nil {
			if err := f.Check(v); err != nil {
				fmt.Fprintf(c.out, "%v\n", err)
				continue
			}
		}

		c.values[f.Key] = v
		return v, nil
	}
}

// PrivateKey accepts either PEM text or a path to a PEM file
func PrivateKey(value string) (string, error) {
	if value == "" || strings.Contains(value, "-----BEGIN") {
		return value, nil
	}
	if err := validate.FileExists(value); err != nil {
		return "", err
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	return string(data), nil
}

// Split separates resolved values into what goes to config.json and credentials.json
func Split(values map[string]string) (configuration, credentials map[string]string) {
	configuration = map[string]string{}
	credentials = map[string]string{}
	for key, value := range values {
		switch {
		case config.IsCredentialKey(key):
			credentials[key] = value
		case isConfigurationKey(key):
			configuration[key] = value
		}
	}
	return configuration, credentials
}

func isConfigurationKey(key string) bool {
	_, ok := config.DefaultConfiguration[key]
	return ok
}
