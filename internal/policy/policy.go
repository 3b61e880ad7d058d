// Package policy defines the tunable limits and command allow-lists that the
// sandbox, the context assembler and the engine enforce.
// Defaults live here so every threshold can be overridden from a YAML file
// and exercised directly in tests.
package policy

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/arbor/pkg/models"
)

// MaxCeiling bounds every command timeout. It is never configurable upward.
const MaxCeiling = 2 * time.Minute

// Config contains all policy parameters.
type Config struct {
	// Exec controls command timeouts and output caps.
	Exec ExecPolicy `yaml:"exec"`

	// Commands holds the allow-listed command prefixes per class.
	Commands CommandPolicy `yaml:"commands"`

	// Scratch controls Diagnostician scratch workspaces.
	Scratch ScratchPolicy `yaml:"scratch"`

	// Context bounds what a single turn may see.
	Context ContextPolicy `yaml:"context"`

	// Engine controls re-prompting, escalation and concurrency.
	Engine EnginePolicy `yaml:"engine"`
}

// ExecPolicy controls the sandboxed executor.
type ExecPolicy struct {
	// DefaultTimeout is the hard timeout applied to every command.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Ceiling is the outer bound for any requested timeout. Always below MaxCeiling.
	Ceiling time.Duration `yaml:"ceiling"`

	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// KillGrace is how long to wait for output pipes after the process is killed.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// CommandPolicy lists command prefixes by class plus the heuristics for the
// unbounded-timeout exception.
type CommandPolicy struct {
	Build    []string `yaml:"build"`
	Test     []string `yaml:"test"`
	Run      []string `yaml:"run"`
	ReadOnly []string `yaml:"read_only"`
	// ReadOnlyDeniedFlags disqualify a read_only match, for tools that can
	// write or run other programs through a flag. A flag also matches in its
	// "flag=value" form.
	ReadOnlyDeniedFlags []string `yaml:"read_only_denied_flags"`
	// Training are launchers only the implementing Coordinator may use.
	Training []string `yaml:"training"`

	// TrainingKeywords mark a command as long-running training.
	TrainingKeywords []string `yaml:"training_keywords"`

	// VerificationKeywords mark a command as test/verification. A command
	// matching these is never eligible for an unbounded timeout.
	VerificationKeywords []string `yaml:"verification_keywords"`
}

// ScratchPolicy controls Diagnostician scratch files.
type ScratchPolicy struct {
	// Interpreters maps a scratch file extension to the command that runs it.
	Interpreters map[string][]string `yaml:"interpreters"`

	// MaxFileBytes caps a single scratch file.
	MaxFileBytes int `yaml:"max_file_bytes"`

	// MaxDefinitionRatio is the share of definition lines above which a
	// scratch file is flagged as a likely reimplementation.
	MaxDefinitionRatio float64 `yaml:"max_definition_ratio"`
}

// ContextPolicy bounds an assembled turn payload.
type ContextPolicy struct {
	MaxDocBytes       int `yaml:"max_doc_bytes"`
	MaxFileBytes      int `yaml:"max_file_bytes"`
	MaxTotalBytes     int `yaml:"max_total_bytes"`
	RecentResults     int `yaml:"recent_results"`
	ListingDepth      int `yaml:"listing_depth"`
	MaxListingEntries int `yaml:"max_listing_entries"`
}

// EnginePolicy controls the turn loop.
type EnginePolicy struct {
	// MaxReprompts is the number of consecutive rejections before a worker is
	// finished with a failing report.
	MaxReprompts int `yaml:"max_reprompts"`

	// MaxOracleFailures is the number of consecutive oracle transport errors
	// that abort the run.
	MaxOracleFailures int `yaml:"max_oracle_failures"`

	// MaxTurns bounds the turns a worker may take on one task.
	MaxTurns int `yaml:"max_turns"`

	// EscalateAfterTimeouts is the number of consecutive timeouts before the
	// node is told to subdivide or spawn a diagnostician.
	EscalateAfterTimeouts int `yaml:"escalate_after_timeouts"`

	// HistoryLimit caps the observations kept per node.
	HistoryLimit int `yaml:"history_limit"`

	// EventBuffer is the buffer size of the event channel.
	EventBuffer int `yaml:"event_buffer"`

	// VerifyDisjointScopes checks owned scopes of a parallel batch before dispatch.
	VerifyDisjointScopes bool `yaml:"verify_disjoint_scopes"`
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Exec: ExecPolicy{
			DefaultTimeout: 60 * time.Second,
			Ceiling:        110 * time.Second,
			MaxOutputBytes: 64 * 1024,
			KillGrace:      2 * time.Second,
		},
		Commands: CommandPolicy{
			Build: []string{
				"go build", "go vet", "make", "cargo build", "cargo check",
				"npm run build", "tsc", "mvn compile", "gradle build",
			},
			Test: []string{
				"go test", "cargo test", "npm test", "npm run test", "pytest",
				"python -m pytest", "python3 -m pytest", "make test", "jest",
				"mvn test", "gradle test",
			},
			Run: []string{
				"go run", "cargo run", "npm start", "node", "python", "python3",
			},
			ReadOnly: []string{
				"ls", "cat", "head", "tail", "wc", "grep", "rg",
				"stat", "file", "diff", "pwd", "git status", "git diff",
				"git log", "git show", "go list", "go doc", "go env",
			},
			ReadOnlyDeniedFlags: []string{
				"--output", "--ext-diff", "--textconv", "--pre",
				"-delete", "-exec", "-execdir", "-ok", "-okdir",
				"-fprint", "-fprint0", "-fprintf", "-fls",
			},
			Training: []string{
				"torchrun", "accelerate launch", "deepspeed", "python", "python3",
			},
			TrainingKeywords: []string{
				"train", "finetune", "fine-tune", "--epochs",
			},
			VerificationKeywords: []string{
				"test", "spec", "lint", "vet", "check", "verify", "bench",
			},
		},
		Scratch: ScratchPolicy{
			Interpreters: map[string][]string{
				".sh": {"sh"},
				".py": {"python3"},
				".js": {"node"},
			},
			MaxFileBytes:       64 * 1024,
			MaxDefinitionRatio: 0.5,
		},
		Context: ContextPolicy{
			MaxDocBytes:       16 * 1024,
			MaxFileBytes:      16 * 1024,
			MaxTotalBytes:     96 * 1024,
			RecentResults:     5,
			ListingDepth:      3,
			MaxListingEntries: 400,
		},
		Engine: EnginePolicy{
			MaxReprompts:          5,
			MaxOracleFailures:     3,
			MaxTurns:              100,
			EscalateAfterTimeouts: 2,
			HistoryLimit:          20,
			EventBuffer:           256,
			VerifyDisjointScopes:  true,
		},
	}
}

// Validate clamps policy values into acceptable ranges.
func (c *Config) Validate() error {
	if c.Exec.Ceiling <= 0 || c.Exec.Ceiling >= MaxCeiling {
		c.Exec.Ceiling = 110 * time.Second
	}
	if c.Exec.DefaultTimeout <= 0 {
		c.Exec.DefaultTimeout = 60 * time.Second
	}
	if c.Exec.DefaultTimeout > c.Exec.Ceiling {
		c.Exec.DefaultTimeout = c.Exec.Ceiling
	}
	if c.Exec.MaxOutputBytes < 1024 {
		c.Exec.MaxOutputBytes = 64 * 1024
	}
	if c.Exec.KillGrace <= 0 {
		c.Exec.KillGrace = 2 * time.Second
	}
	if c.Scratch.MaxFileBytes < 1 {
		c.Scratch.MaxFileBytes = 64 * 1024
	}
	if c.Scratch.MaxDefinitionRatio <= 0 || c.Scratch.MaxDefinitionRatio > 1 {
		c.Scratch.MaxDefinitionRatio = 0.5
	}
	if c.Context.MaxDocBytes < 256 {
		c.Context.MaxDocBytes = 16 * 1024
	}
	if c.Context.MaxFileBytes < 256 {
		c.Context.MaxFileBytes = 16 * 1024
	}
	if c.Context.MaxTotalBytes < c.Context.MaxFileBytes {
		c.Context.MaxTotalBytes = 6 * c.Context.MaxFileBytes
	}
	if c.Context.RecentResults < 1 {
		c.Context.RecentResults = 5
	}
	if c.Context.ListingDepth < 1 {
		c.Context.ListingDepth = 3
	}
	if c.Context.MaxListingEntries < 1 {
		c.Context.MaxListingEntries = 400
	}
	if c.Engine.MaxReprompts < 1 {
		c.Engine.MaxReprompts = 5
	}
	if c.Engine.MaxOracleFailures < 1 {
		c.Engine.MaxOracleFailures = 3
	}
	if c.Engine.MaxTurns < 1 {
		c.Engine.MaxTurns = 100
	}
	if c.Engine.EscalateAfterTimeouts < 1 {
		c.Engine.EscalateAfterTimeouts = 2
	}
	if c.Engine.HistoryLimit < c.Context.RecentResults {
		c.Engine.HistoryLimit = 4 * c.Context.RecentResults
	}
	if c.Engine.EventBuffer < 1 {
		c.Engine.EventBuffer = 256
	}
	return nil
}

// LoadFile overlays the YAML policy file at path onto the defaults.
// Lists in the file replace the default lists.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Class groups allow-listed command prefixes.
type Class string

const (
	ClassBuild    Class = "build"
	ClassTest     Class = "test"
	ClassRun      Class = "run"
	ClassReadOnly Class = "read_only"
	ClassTraining Class = "training"
)

// Rule is the command rule for one (role, phase) pair.
type Rule struct {
	// Unrestricted permits any command, including compound shell input.
	Unrestricted bool
	// Classes lists the permitted prefix classes otherwise.
	Classes []Class
}

// RuleFor returns the command rule for role in phase.
func (c *Config) RuleFor(role models.Role, phase models.Phase) Rule {
	switch role {
	case models.RoleCoordinator:
		switch phase {
		case models.PhaseStructuring:
			return Rule{Unrestricted: true}
		case models.PhaseImplementing:
			return Rule{Classes: []Class{ClassBuild, ClassTest, ClassRun, ClassReadOnly, ClassTraining}}
		default:
			return Rule{}
		}
	case models.RoleSubManager, models.RoleImplementer:
		return Rule{Classes: []Class{ClassBuild, ClassTest, ClassRun}}
	case models.RoleDiagnostician:
		return Rule{Classes: []Class{ClassReadOnly, ClassTest}}
	default:
		return Rule{}
	}
}

// Prefixes returns the allow-listed prefixes of class.
func (p *CommandPolicy) Prefixes(class Class) []string {
	switch class {
	case ClassBuild:
		return p.Build
	case ClassTest:
		return p.Test
	case ClassRun:
		return p.Run
	case ClassReadOnly:
		return p.ReadOnly
	case ClassTraining:
		return p.Training
	default:
		return nil
	}
}

// Match returns the first class of rule whose prefixes match command.
func (p *CommandPolicy) Match(rule Rule, command string) (Class, bool) {
	command = strings.TrimSpace(command)
	for _, class := range rule.Classes {
		for _, prefix := range p.Prefixes(class) {
			if !HasCommandPrefix(command, prefix) {
				continue
			}
			if class == ClassReadOnly && p.deniedFlag(command) {
				continue
			}
			return class, true
		}
	}
	return "", false
}

func (p *CommandPolicy) deniedFlag(command string) bool {
	for _, field := range strings.Fields(command) {
		name, _, _ := strings.Cut(field, "=")
		for _, flag := range p.ReadOnlyDeniedFlags {
			if name == flag {
				return true
			}
		}
	}
	return false
}

// Describe lists the prefixes permitted by rule for corrective messages.
func (p *CommandPolicy) Describe(rule Rule) string {
	if rule.Unrestricted {
		return "any command"
	}
	if len(rule.Classes) == 0 {
		return "no commands"
	}
	var parts []string
	for _, class := range rule.Classes {
		parts = append(parts, fmt.Sprintf("%s: %s", class, strings.Join(p.Prefixes(class), ", ")))
	}
	return strings.Join(parts, "; ")
}

// IsVerification reports whether command is a test or verification command.
func (p *CommandPolicy) IsVerification(command string) bool {
	command = strings.TrimSpace(command)
	for _, prefix := range append(append([]string{}, p.Test...), p.Build...) {
		if HasCommandPrefix(command, prefix) {
			return true
		}
	}
	return hasWord(command, p.VerificationKeywords)
}

// IsTraining reports whether command looks like long-running training.
// Verification commands never qualify.
func (p *CommandPolicy) IsTraining(command string) bool {
	if p.IsVerification(command) {
		return false
	}
	return containsAny(strings.ToLower(command), p.TrainingKeywords)
}

// HasCommandPrefix reports whether command starts with prefix on a word boundary.
func HasCommandPrefix(command, prefix string) bool {
	if prefix == "" {
		return false
	}
	if command == prefix {
		return true
	}
	return strings.HasPrefix(command, prefix+" ")
}

// hasWord reports whether a keyword appears in s as a whole word or as an
// underscore-separated part of one, plural and -ing forms included.
// "run_tests.sh" holds "test"; "latest" and "--checkpoint" hold nothing.
func hasWord(s string, keywords []string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		parts := strings.Split(w, "_")
		for _, k := range keywords {
			k = strings.ToLower(k)
			if k == "" {
				continue
			}
			for _, part := range parts {
				if part == k || part == k+"s" || part == k+"ing" {
					return true
				}
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
