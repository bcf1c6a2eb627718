package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`

	// Slack OAuth app
	SlackClientID     string `envconfig:"SLACK_CLIENT_ID" required:"true"`
	SlackClientSecret string `envconfig:"SLACK_CLIENT_SECRET" required:"true"`
	SlackRedirectURL  string `envconfig:"SLACK_REDIRECT_URL" required:"true"`
	SlackBaseURL      string `envconfig:"SLACK_BASE_URL" default:"https://slack.com"`

	// How far in the past a sendAt may be before the request is rejected.
	ScheduleGrace string `envconfig:"SCHEDULE_GRACE" default:"60s"`
}

type DispatcherConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Slack OAuth app (rotation at dispatch time)
	SlackClientID     string `envconfig:"SLACK_CLIENT_ID" required:"true"`
	SlackClientSecret string `envconfig:"SLACK_CLIENT_SECRET" required:"true"`
	SlackBaseURL      string `envconfig:"SLACK_BASE_URL" default:"https://slack.com"`

	// Scan loop
	ScanInterval        string `envconfig:"SCAN_INTERVAL" default:"60s"`
	DispatchConcurrency int    `envconfig:"DISPATCH_CONCURRENCY" default:"8"`
	RefreshMargin       string `envconfig:"REFRESH_MARGIN" default:"60s"`

	// Outbound pacing
	SlackRPS   float64 `envconfig:"SLACK_RPS" default:"1"`
	SlackBurst int     `envconfig:"SLACK_BURST" default:"5"`

	// Optional re-authorization alert queue; alerts disabled when empty.
	AWSRegion          string `envconfig:"AWS_REGION"`
	AlertQueueURL      string `envconfig:"ALERT_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
