package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/crossbario/crossbar/auth"
	"github.com/crossbario/crossbar/client"
	"github.com/crossbario/crossbar/transport/serialize"
)

const (
	defaultURL   = "ws://localhost:8080/ws"
	defaultRealm = "realm1"
)

// demoConfig is the content of a wampdemo config file.  The same keys are
// accepted in YAML and TOML.
type demoConfig struct {
	URL           string `yaml:"url" toml:"url"`
	Realm         string `yaml:"realm" toml:"realm"`
	Serialization string `yaml:"serialization" toml:"serialization"`
	Debug         bool   `yaml:"debug" toml:"debug"`
	MetricsAddr   string `yaml:"metrics_addr" toml:"metrics_addr"`

	ResponseTimeout string `yaml:"response_timeout" toml:"response_timeout"`
	GoodbyeTimeout  string `yaml:"goodbye_timeout" toml:"goodbye_timeout"`
	MaxInvocations  int    `yaml:"max_invocations" toml:"max_invocations"`

	Auth authConfig `yaml:"auth" toml:"auth"`
}

type authConfig struct {
	AuthID string `yaml:"authid" toml:"authid"`
	// Secret for wampcra.  Salt, Iterations and KeyLen make it a salted
	// secret.
	Secret     string `yaml:"secret" toml:"secret"`
	Salt       string `yaml:"salt" toml:"salt"`
	Iterations int    `yaml:"iterations" toml:"iterations"`
	KeyLen     int    `yaml:"keylen" toml:"keylen"`
	// Hex-encoded Ed25519 seed for cryptosign, or a crossbar key file.
	Seed    string `yaml:"seed" toml:"seed"`
	KeyFile string `yaml:"keyfile" toml:"keyfile"`
}

// loadConfig reads a config file, choosing the format by file extension.  An
// empty path gives the defaults.
func loadConfig(path string) (*demoConfig, error) {
	conf := &demoConfig{
		URL:   defaultURL,
		Realm: defaultRealm,
	}
	if path == "" {
		return conf, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(data, conf); err != nil {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, conf); err != nil {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", path)
	}
	return conf, nil
}

// credentials builds the credentials configured in the auth section.
func (a *authConfig) credentials() ([]auth.Credential, error) {
	var creds []auth.Credential
	switch {
	case a.KeyFile != "" && a.Seed != "":
		return nil, errors.New("auth: seed and keyfile are mutually exclusive")
	case a.KeyFile != "":
		kp, err := auth.LoadSigningKeypair(a.KeyFile)
		if err != nil {
			return nil, err
		}
		creds = append(creds, kp)
	case a.Seed != "":
		kp, err := auth.NewSigningKeypair(a.Seed)
		if err != nil {
			return nil, err
		}
		creds = append(creds, kp)
	}
	if a.Secret != "" {
		if a.Salt != "" {
			creds = append(creds, auth.SaltedSecret{
				Secret:     a.Secret,
				Salt:       a.Salt,
				Iterations: a.Iterations,
				KeyLen:     a.KeyLen,
			})
		} else {
			creds = append(creds, auth.SharedSecret{Secret: a.Secret})
		}
	}
	return creds, nil
}

// clientConfig converts the file configuration into a session configuration.
func (conf *demoConfig) clientConfig() (client.Config, error) {
	ser, err := serialize.ParseSerialization(conf.Serialization)
	if err != nil {
		return client.Config{}, err
	}
	creds, err := conf.Auth.credentials()
	if err != nil {
		return client.Config{}, err
	}
	cfg := client.Config{
		Realm:          conf.Realm,
		AuthID:         conf.Auth.AuthID,
		Credentials:    creds,
		MaxInvocations: conf.MaxInvocations,
		Debug:          conf.Debug,
		Serialization:  ser,
	}
	if cfg.ResponseTimeout, err = parseDuration(conf.ResponseTimeout); err != nil {
		return client.Config{}, fmt.Errorf("response_timeout: %w", err)
	}
	if cfg.GoodbyeTimeout, err = parseDuration(conf.GoodbyeTimeout); err != nil {
		return client.Config{}, fmt.Errorf("goodbye_timeout: %w", err)
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
