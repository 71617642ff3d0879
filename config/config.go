package config

import (
	"bytes"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-versus/globals"
)

const (
	defaultPort          = 3001
	defaultLogLevel      = "INFO"
	defaultAuthPolicy    = "token"
	defaultRecordTimeout = 5 * time.Second
	defaultRoomTTL       = 30 * time.Minute
	defaultSweepSpec     = "@every 1m"
)

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:3002",
}

// Config is the global configuration object which is filled via the configuration file, the environment and
// command-line flags (in increasing order of precedence)
type Config struct {
	ListenHost        string            `mapstructure:"listen_host"`
	Port              int               `mapstructure:"port"`
	AllowedOrigins    []string          `mapstructure:"allowed_origins"`
	LogLevel          string            `mapstructure:"log_level"`
	SSLCert           string            `mapstructure:"ssl_cert"`
	SSLKey            string            `mapstructure:"ssl_key"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RoomConfig        RoomConfig        `mapstructure:"room"`
}

// AuthConfig selects how connections prove their identity. Policy is one of "token" (the token is taken as the
// user id verbatim), "jwt" (HS256 token signed with Secret) or "oidc" (ID token of one of the OIDC providers).
type AuthConfig struct {
	Policy     string `mapstructure:"policy"`
	Secret     string `mapstructure:"secret"`
	Issuer     string `mapstructure:"issuer"`
	GuestNames bool   `mapstructure:"guest_names"`
}

// An OIDCConfig  object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// PersistenceConfig configures where finished matches are recorded. Type is one of "gorm-postgres", "gorm-sqlite",
// "postgres", "sqlite", "buntdb" or "redis". An empty type disables recording.
type PersistenceConfig struct {
	Type          string        `mapstructure:"type"`
	DSN           string        `mapstructure:"dsn"`
	FlockPath     string        `mapstructure:"flock_path"` // buntdb only
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

// RoomConfig controls the room lifecycle.
type RoomConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	SweepSpec          string        `mapstructure:"sweep_spec"`
	EnforceHostActions bool          `mapstructure:"enforce_host_actions"`
	ScoreFilter        string        `mapstructure:"score_filter"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.Int("port", defaultPort, "port to listen on")
	flagSet.String("listen-host", "", "host/interface to listen on")
	flagSet.String("log-level", defaultLogLevel, "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_host", "")
	v.SetDefault("port", defaultPort)
	v.SetDefault("allowed_origins", defaultAllowedOrigins)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("ssl_cert", "")
	v.SetDefault("ssl_key", "")
	v.SetDefault("auth.policy", defaultAuthPolicy)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.guest_names", false)
	v.SetDefault("persistence.type", "")
	v.SetDefault("persistence.dsn", "")
	v.SetDefault("persistence.flock_path", "")
	v.SetDefault("persistence.record_timeout", defaultRecordTimeout)
	v.SetDefault("room.ttl", defaultRoomTTL)
	v.SetDefault("room.sweep_spec", defaultSweepSpec)
	v.SetDefault("room.enforce_host_actions", true)
	v.SetDefault("room.score_filter", "")
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Environment variables
// prefixed with LSVERSUS_ (the port is read from PORT) as well as the flags in flagSet take precedence over the file.
// It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix("LSVERSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "PORT")
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	if cfg.PersistenceConfig.RecordTimeout <= 0 {
		cfg.PersistenceConfig.RecordTimeout = defaultRecordTimeout
	}

	globals.AppLogger.Debug("config", "all", v.AllSettings())
	return &cfg, nil
}
