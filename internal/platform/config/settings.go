package config

import "time"

// Orchestrator is every setting the server reads from the environment.
type Orchestrator struct {
	Port       string
	LogLevel   string
	LogFormat  string
	LogOutput  string
	ScenesFile string

	TickIntervalMS int
	LoopScenes     bool
	CommandBuffer  int

	IdleGrace       time.Duration
	StaleAfter      time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration

	MQTT MQTT
}

// MQTT configures the optional broker transport.
type MQTT struct {
	Enabled     bool
	Host        string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// LoadOrchestrator reads Orchestrator from the environment, applying defaults.
// Call Load first if a .env file should be honoured.
func LoadOrchestrator() Orchestrator {
	return Orchestrator{
		Port:       GetEnv("PORT", "8080"),
		LogLevel:   GetEnv("LOG_LEVEL", "info"),
		LogFormat:  GetEnv("LOG_FORMAT", "json"),
		LogOutput:  GetEnv("LOG_OUTPUT", "stdout"),
		ScenesFile: GetEnv("SCENES_FILE", ""),

		TickIntervalMS: GetEnvInt("TICK_INTERVAL_MS", 100),
		LoopScenes:     GetEnvBool("LOOP_SCENES", false),
		CommandBuffer:  GetEnvInt("COMMAND_BUFFER", 64),

		IdleGrace:       GetEnvDuration("IDLE_GRACE", 60*time.Second),
		StaleAfter:      GetEnvDuration("STALE_AFTER", 90*time.Second),
		SweepInterval:   GetEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),

		MQTT: MQTT{
			Enabled:     GetEnvBool("MQTT_ENABLED", false),
			Host:        GetEnv("MQTT_HOST", "localhost"),
			Port:        GetEnvInt("MQTT_PORT", 1883),
			ClientID:    GetEnv("MQTT_CLIENT_ID", "stream-orchestrator"),
			Username:    GetEnv("MQTT_USERNAME", ""),
			Password:    GetEnv("MQTT_PASSWORD", ""),
			TopicPrefix: GetEnv("MQTT_TOPIC_PREFIX", "orchestrator"),
			QoS:         GetEnvInt("MQTT_QOS", 1),
		},
	}
}
