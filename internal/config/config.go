package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	SendQueue SendQueueConfig
	Discovery DiscoveryConfig
	HubSpot   HubSpotConfig
	Gmail     GmailConfig
	OpenAI    OpenAIConfig
	Dawa      DawaConfig
	Cvr       CvrConfig
	Outbound  OutboundConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ScansPerHour    int
	ResearchPerHour int
	AgentPerHour    int
	SendsPerMin     int
}

type SendQueueConfig struct {
	HourlyCap    int
	PollInterval int // seconds
}

type DiscoveryConfig struct {
	ScoreThreshold float64
	DefaultLimit   int
}

type HubSpotConfig struct {
	Token   string
	BaseURL string
}

type GmailConfig struct {
	Sender     string
	Token      string
	BaseURL    string
	SenderName string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type DawaConfig struct {
	BaseURL string
}

type CvrConfig struct {
	BaseURL   string
	UserAgent string
}

// OutboundConfig throttles calls to external collaborators.
type OutboundConfig struct {
	ReqPerSec float64
	Burst     int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("HUBSPOT_TOKEN")
	readSecret("GMAIL_TOKEN")
	readSecret("OPENAI_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("sendqueue.hourly_cap", "SEND_HOURLY_CAP")
	_ = viper.BindEnv("sendqueue.poll_interval", "SEND_POLL_INTERVAL")
	_ = viper.BindEnv("discovery.score_threshold", "DISCOVERY_SCORE_THRESHOLD")
	_ = viper.BindEnv("discovery.default_limit", "DISCOVERY_DEFAULT_LIMIT")
	_ = viper.BindEnv("hubspot.token", "HUBSPOT_TOKEN")
	_ = viper.BindEnv("hubspot.base_url", "HUBSPOT_BASE_URL")
	_ = viper.BindEnv("gmail.sender", "GMAIL_SENDER")
	_ = viper.BindEnv("gmail.sender_name", "GMAIL_SENDER_NAME")
	_ = viper.BindEnv("gmail.token", "GMAIL_TOKEN")
	_ = viper.BindEnv("gmail.base_url", "GMAIL_BASE_URL")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.model", "OPENAI_MODEL")
	_ = viper.BindEnv("dawa.base_url", "DAWA_BASE_URL")
	_ = viper.BindEnv("cvr.base_url", "CVR_BASE_URL")
	_ = viper.BindEnv("cvr.user_agent", "CVR_USER_AGENT")
	_ = viper.BindEnv("outbound.req_per_sec", "OUTBOUND_REQ_PER_SEC")
	_ = viper.BindEnv("outbound.burst", "OUTBOUND_BURST")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.scans_per_hour", 20)
	viper.SetDefault("ratelimit.research_per_hour", 30)
	viper.SetDefault("ratelimit.agent_per_hour", 5)
	viper.SetDefault("ratelimit.sends_per_min", 30)
	viper.SetDefault("sendqueue.hourly_cap", 20)
	viper.SetDefault("sendqueue.poll_interval", 15)
	viper.SetDefault("discovery.score_threshold", 6.0)
	viper.SetDefault("discovery.default_limit", 25)
	viper.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	viper.SetDefault("gmail.base_url", "https://gmail.googleapis.com")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("dawa.base_url", "https://api.dataforsyningen.dk")
	viper.SetDefault("cvr.base_url", "https://cvrapi.dk/api")
	viper.SetDefault("cvr.user_agent", "LeadPilot lead research")
	viper.SetDefault("outbound.req_per_sec", 4.0)
	viper.SetDefault("outbound.burst", 8)

	// Config file is optional
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ScansPerHour:    viper.GetInt("ratelimit.scans_per_hour"),
			ResearchPerHour: viper.GetInt("ratelimit.research_per_hour"),
			AgentPerHour:    viper.GetInt("ratelimit.agent_per_hour"),
			SendsPerMin:     viper.GetInt("ratelimit.sends_per_min"),
		},
		SendQueue: SendQueueConfig{
			HourlyCap:    viper.GetInt("sendqueue.hourly_cap"),
			PollInterval: viper.GetInt("sendqueue.poll_interval"),
		},
		Discovery: DiscoveryConfig{
			ScoreThreshold: viper.GetFloat64("discovery.score_threshold"),
			DefaultLimit:   viper.GetInt("discovery.default_limit"),
		},
		HubSpot: HubSpotConfig{
			Token:   viper.GetString("hubspot.token"),
			BaseURL: viper.GetString("hubspot.base_url"),
		},
		Gmail: GmailConfig{
			Sender:     viper.GetString("gmail.sender"),
			SenderName: viper.GetString("gmail.sender_name"),
			Token:      viper.GetString("gmail.token"),
			BaseURL:    viper.GetString("gmail.base_url"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  viper.GetString("openai.api_key"),
			BaseURL: viper.GetString("openai.base_url"),
			Model:   viper.GetString("openai.model"),
		},
		Dawa: DawaConfig{
			BaseURL: viper.GetString("dawa.base_url"),
		},
		Cvr: CvrConfig{
			BaseURL:   viper.GetString("cvr.base_url"),
			UserAgent: viper.GetString("cvr.user_agent"),
		},
		Outbound: OutboundConfig{
			ReqPerSec: viper.GetFloat64("outbound.req_per_sec"),
			Burst:     viper.GetInt("outbound.burst"),
		},
	}

	return cfg, nil
}
