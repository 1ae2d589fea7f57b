package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	SMTP      SMTPConfig
	Telephony TelephonyConfig
	Ai        AIConfig
	Speech    SpeechConfig
	Media     MediaConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string // Public HTTPS origin the telephony provider calls back on
	StreamURL          string // Public wss:// origin for media sockets; derived from BaseURL when empty
	Environment        string
	LogFilePath        string
	MediaLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
	Timezone           string
}

type DatabaseConfig struct {
	Connection string // Empty selects the in-memory repository
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
}

type TelephonyConfig struct {
	AccountSid        string
	AuthToken         string
	FromNumber        string
	ValidateSignature bool
	DetectMachine     bool
	RingTimeout       int
}

type AIConfig struct {
	LLMProvider   string // "ollama" or "openai"
	LLMModel      string
	OllamaBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

type SpeechConfig struct {
	DeepgramAPIKey      string
	DeepgramModel       string
	ElevenLabsAPIKey    string
	ElevenLabsVoiceID   string
	ElevenLabsModelID   string
	ElevenLabsFormat    string
	DisableStreaming    bool
	EndpointingMs       int
	RecognitionLanguage string
}

type MediaConfig struct {
	ChunkMinLength     int
	StreamPauseSeconds int
	GatherTimeout      int
	Voice              string
	Language           string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			StreamURL:          getEnv("APP_STREAM_URL", ""),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			MediaLogFilePath:   getEnv("MEDIA_LOG_FILE_PATH", "logs/media.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			Timezone:           getEnv("APP_TIMEZONE", "UTC"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Appointment Caller"),
		},
		Telephony: TelephonyConfig{
			AccountSid:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:        getEnv("TWILIO_FROM_NUMBER", ""),
			ValidateSignature: getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", true),
			DetectMachine:     getEnvAsBool("TWILIO_DETECT_MACHINE", true),
			RingTimeout:       getEnvAsInt("TWILIO_RING_TIMEOUT", 30),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "openai"),
			LLMModel:      getEnv("LLM_MODEL", ""),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Speech: SpeechConfig{
			DeepgramAPIKey:      getEnv("DEEPGRAM_API_KEY", ""),
			DeepgramModel:       getEnv("DEEPGRAM_MODEL", "nova-2-phonecall"),
			ElevenLabsAPIKey:    getEnv("ELEVENLABS_API_KEY", ""),
			ElevenLabsVoiceID:   getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
			ElevenLabsModelID:   getEnv("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
			ElevenLabsFormat:    getEnv("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
			DisableStreaming:    getEnvAsBool("DISABLE_STREAMING", false),
			EndpointingMs:       getEnvAsInt("STT_ENDPOINTING_MS", 300),
			RecognitionLanguage: getEnv("STT_LANGUAGE", "en-US"),
		},
		Media: MediaConfig{
			ChunkMinLength:     getEnvAsInt("CHUNK_MIN_LENGTH", 30),
			StreamPauseSeconds: getEnvAsInt("STREAM_PAUSE_SECONDS", 3600),
			GatherTimeout:      getEnvAsInt("GATHER_TIMEOUT_SECONDS", 5),
			Voice:              getEnv("VOICE_NAME", "Polly.Joanna"),
			Language:           getEnv("VOICE_LANGUAGE", "en-US"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
