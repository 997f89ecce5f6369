// =============================================================================
// 📦 MeetingFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Meeting:     DefaultMeetingConfig(),
		Transcriber: DefaultTranscriberConfig(),
		Verifier:    DefaultVerifierConfig(),
		TTS:         DefaultTTSConfig(),
		Intent:      DefaultIntentConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultMeetingConfig 返回默认会话参数
func DefaultMeetingConfig() MeetingConfig {
	return MeetingConfig{
		VerificationWindow:  3 * time.Second,
		ConfidenceThreshold: 0.9,
		ChunkSamples:        2048,
		InboxSize:           64,
		OutboxSize:          256,
		SideEffectTimeout:   15 * time.Second,
		SendTimeout:         5 * time.Second,
		Workers:             16,
		QueueSize:           1024,
	}
}

// DefaultTranscriberConfig 返回默认转写配置
func DefaultTranscriberConfig() TranscriberConfig {
	return TranscriberConfig{
		Language:    "en-US",
		DialTimeout: 10 * time.Second,
	}
}

// DefaultVerifierConfig 返回默认声纹识别配置
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		BaseURL:             "http://localhost:8000",
		Timeout:             time.Second,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultTTSConfig 返回默认 TTS 配置
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		BaseURL: "https://api.openai.com",
		Model:   "tts-1",
		Voice:   "nova",
		Format:  "mp3",
		Timeout: 30 * time.Second,
	}
}

// DefaultIntentConfig 返回默认指令识别配置
func DefaultIntentConfig() IntentConfig {
	return IntentConfig{
		Model:      "gpt-5.1-chat",
		APIVersion: "2025-04-01-preview",
		Timeout:    15 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Host:                "localhost",
		Port:                5432,
		User:                "meetingflow",
		Name:                "meetingflow.db",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		AutoMigrate:         true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "meetingflow:",
		ProfileTTL:   10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "meetingflow",
		SampleRate:   0.1,
	}
}
