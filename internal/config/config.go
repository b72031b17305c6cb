// Package config centralizes runtime configuration for the ledger service.
// It loads a JSON configuration file, fills unset fields with defaults and
// applies environment overrides. A missing file yields the defaults, which
// describe the four-ministry deployment with the welfare ministry proposing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"satya.ledger/sl/internal/types"
)

// Participant is one row of the participant table.
type Participant struct {
	Role    string `json:"role"`
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Kafka configures the optional Kafka event sink.
type Kafka struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	Acks    int      `json:"acks"`
}

// Config holds configurable options for the ledger service.
type Config struct {
	DBFile           string        `json:"db_file"`
	Port             int           `json:"port"`
	LogLevel         string        `json:"log_level"`
	Environment      string        `json:"environment"`
	ProposerRole     string        `json:"proposer_role"`
	Quorum           int           `json:"quorum"`
	Participants     []Participant `json:"participants"`
	BackupInterval   Duration      `json:"backup_interval"`
	MaxBackups       int           `json:"max_backups"`
	ActivityBuffer   int           `json:"activity_buffer"`
	DocsDir          string        `json:"docs_dir"`
	DispatchInterval Duration      `json:"dispatch_interval"`
	Kafka            Kafka         `json:"kafka"`
}

// Duration reads either a Go duration string ("30m") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// DefaultParticipants are the ministries of the original deployment.
var DefaultParticipants = []Participant{
	{Role: "finance", Address: "0xdeF7c520781D097D23f20563111C266630e8Fe7f", Name: "Finance Ministry"},
	{Role: "welfare", Address: "0xb2eA23Ad706B701a359aDc5DAC5A7E7a8FEe96b0", Name: "Welfare Ministry"},
	{Role: "education", Address: "0x76F52BE2B49cc3466897865fa488dCa8B5cBa33b", Name: "Education Ministry"},
	{Role: "audit", Address: "0xE7C431244397bc4DB389806d4931e16B978fC23F", Name: "Auditor General"},
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DBFile:           "ledger.db",
		Port:             8080,
		LogLevel:         "info",
		Environment:      "production",
		ProposerRole:     "welfare",
		Quorum:           3,
		Participants:     append([]Participant(nil), DefaultParticipants...),
		BackupInterval:   Duration{30 * time.Minute},
		MaxBackups:       20,
		ActivityBuffer:   200,
		DocsDir:          "docs",
		DispatchInterval: Duration{2 * time.Second},
		Kafka: Kafka{
			Topic: "ledger.events",
			Acks:  -1,
		},
	}
}

// Load reads the JSON file at path. An empty path or a missing file returns
// the defaults. A file that exists but cannot be parsed is an error. The file
// is decoded over the defaults, so keys it omits keep their default values;
// kafka.acks in particular stays -1 unless the file sets it.
func Load(path string) (*Config, error) {
	def := Default()

	c := *def
	c.Participants = nil
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := json.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// merge defaults for any zero-value fields
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if c.ProposerRole == "" {
		c.ProposerRole = def.ProposerRole
	}
	if c.Quorum == 0 {
		c.Quorum = def.Quorum
	}
	if len(c.Participants) == 0 {
		c.Participants = def.Participants
	}
	if c.BackupInterval.Duration == 0 {
		c.BackupInterval = def.BackupInterval
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.ActivityBuffer == 0 {
		c.ActivityBuffer = def.ActivityBuffer
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
	if c.DispatchInterval.Duration == 0 {
		c.DispatchInterval = def.DispatchInterval
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = def.Kafka.Topic
	}

	c.applyEnv()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("SL_DB_FILE"); v != "" {
		c.DBFile = v
	}
	if v := os.Getenv("SL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SL_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
		c.Kafka.Enabled = len(brokers) > 0
	}
}

// Validate reports configuration problems that do not depend on the
// participant table; that table is checked by the registry.
func (c *Config) Validate() error {
	var problems []string
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if _, err := types.ParseRole(c.ProposerRole); err != nil {
		problems = append(problems, "proposer_role: "+err.Error())
	}
	if c.MaxBackups < 0 {
		problems = append(problems, "max_backups must not be negative")
	}
	if c.BackupInterval.Duration < 0 || c.DispatchInterval.Duration < 0 {
		problems = append(problems, "intervals must not be negative")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			problems = append(problems, "kafka.enabled requires kafka.brokers")
		}
		if strings.TrimSpace(c.Kafka.Topic) == "" {
			problems = append(problems, "kafka.topic must not be empty")
		}
		switch c.Kafka.Acks {
		case -1, 0, 1:
		default:
			problems = append(problems, fmt.Sprintf("kafka.acks %d must be -1, 0 or 1", c.Kafka.Acks))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ParticipantList converts the participant table into domain participants.
func (c *Config) ParticipantList() ([]types.Participant, error) {
	out := make([]types.Participant, 0, len(c.Participants))
	for i, p := range c.Participants {
		role, err := types.ParseRole(p.Role)
		if err != nil {
			return nil, fmt.Errorf("participants[%d]: %w", i, err)
		}
		out = append(out, types.Participant{Address: p.Address, Role: role, Name: p.Name})
	}
	return out, nil
}

// Proposer returns the parsed proposer role.
func (c *Config) Proposer() (types.Role, error) {
	return types.ParseRole(c.ProposerRole)
}
