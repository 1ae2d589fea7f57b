package bootstrap

import (
	"context"
	"log"
	"time"

	"ai-booking-caller-be/internal/config"
	"ai-booking-caller-be/internal/controller"
	"ai-booking-caller-be/internal/handler"
	"ai-booking-caller-be/internal/media"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/mailer"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/internal/repository"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/repository/implementation"
	"ai-booking-caller-be/internal/repository/memory"
	"ai-booking-caller-be/internal/service"
	"ai-booking-caller-be/internal/websocket"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/llm/factory"
	"ai-booking-caller-be/pkg/preflight"
	"ai-booking-caller-be/pkg/stt"
	"ai-booking-caller-be/pkg/telephony"
	"ai-booking-caller-be/pkg/tts"

	pktNats "ai-booking-caller-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	CallController  controller.ICallController
	AdminController controller.IAdminController

	// Telephony webhooks and media sockets. MediaStreamHandler is nil when
	// the streaming pipeline is unavailable.
	TelephonyHandler   *handler.TelephonyHandler
	MediaStreamHandler *handler.MediaStreamHandler

	// Background Services (Exposed for main.go to run)
	Journal             service.ITranscriptJournal
	NotificationService *service.NotificationService

	// WebSockets & Notification
	NotificationHandler *handler.NotificationHandler
	WebSocketHub        *websocket.Hub

	Capabilities preflight.Capabilities
}

// NewContainer wires the application. A nil db selects the in-memory
// repositories.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	mediaLogger := logger.NewIsolatedLogger(cfg.App.MediaLogFilePath)

	location, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		log.Printf("[WARN] Unknown timezone %q, using UTC: %v", cfg.App.Timezone, err)
		location = time.UTC
	}

	var mail mailer.IEmailService
	if cfg.SMTP.Host != "" {
		mail = mailer.NewEmailService(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Email,
			cfg.SMTP.Password,
			cfg.SMTP.Email,
			cfg.SMTP.SenderName,
		)
	}

	// 2. Repositories
	var callRepo contract.CallSessionRepository
	var notifRepo repository.NotificationRepository
	if db != nil {
		callRepo = implementation.NewCallSessionRepository(db)
		notifRepo = implementation.NewNotificationRepository(db)
	} else {
		log.Println("[INFO] No database configured, using in-memory repositories")
		callRepo = memory.NewCallSessionRepository()
		notifRepo = memory.NewNotificationRepository()
	}

	// 3. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger,
	)
	journal := service.NewTranscriptJournal(pubSub, callRepo, mediaLogger)

	// NATS
	var publisher service.EventPublisher
	var subscriber service.EventSubscriber
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			publisher = natsPub
		}
		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			subscriber = natsSub
		}
	}

	// Redis
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/notification.log")
	wsHub := websocket.NewHub(rdb, wsLogger)

	notifService := service.NewNotificationService(notifRepo, subscriber, publisher, wsHub, mail, wsLogger)

	// 4. Dialog
	provider, err := factory.NewLLMProvider(factory.Settings{
		Provider:      cfg.Ai.LLMProvider,
		Model:         cfg.Ai.LLMModel,
		OllamaBaseURL: cfg.Ai.OllamaBaseURL,
		OpenAIAPIKey:  cfg.Ai.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Ai.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	classifier := dialog.NewLLMClassifier(provider, location)
	engine := dialog.NewEngine(classifier, classifier, dialog.Config{
		GatherTimeout: cfg.Media.GatherTimeout,
		Location:      location,
	})

	// 5. Telephony
	capabilities := preflight.Detect(preflight.Settings{
		RecognitionAPIKey: cfg.Speech.DeepgramAPIKey,
		SynthesisAPIKey:   cfg.Speech.ElevenLabsAPIKey,
		SynthesisFormat:   cfg.Speech.ElevenLabsFormat,
		StreamingDisabled: cfg.Speech.DisableStreaming,
	})
	log.Printf("[INFO] Call mode: %s", preflight.Mode(capabilities))

	var dialer telephony.Dialer
	if cfg.Telephony.AccountSid != "" && cfg.Telephony.AuthToken != "" {
		dialer = telephony.NewTwilioDialer(cfg.Telephony.AccountSid, cfg.Telephony.AuthToken, cfg.Telephony.FromNumber)
	} else {
		log.Println("[WARN] Telephony credentials missing, outbound calls disabled")
	}

	var validator serverutils.RequestValidator
	if cfg.Telephony.ValidateSignature && cfg.Telephony.AuthToken != "" {
		validator = telephony.NewSignatureValidator(cfg.Telephony.AuthToken)
	}

	callService := service.NewCallService(
		callRepo,
		engine,
		dialer,
		notifService,
		publisher,
		capabilities,
		service.CallServiceConfig{
			BaseURL:            cfg.App.BaseURL,
			StreamURL:          cfg.App.StreamURL,
			StreamPauseSeconds: cfg.Media.StreamPauseSeconds,
			DetectMachine:      cfg.Telephony.DetectMachine,
			RingTimeout:        cfg.Telephony.RingTimeout,
			Location:           location,
		},
		sysLogger,
	)

	var mediaStreamHandler *handler.MediaStreamHandler
	if preflight.CanStream(capabilities) {
		recognition := stt.TelephonyConfig()
		recognition.Language = cfg.Speech.RecognitionLanguage
		recognition.EndpointingMs = cfg.Speech.EndpointingMs

		mediaHandler, err := media.NewHandler(
			callService,
			journal,
			stt.NewDeepgramRecognizer(cfg.Speech.DeepgramAPIKey, cfg.Speech.DeepgramModel),
			provider,
			tts.NewElevenLabsSynthesizer(cfg.Speech.ElevenLabsAPIKey, cfg.Speech.ElevenLabsVoiceID, cfg.Speech.ElevenLabsModelID, cfg.Speech.ElevenLabsFormat),
			media.Config{
				ChunkMinLength: cfg.Media.ChunkMinLength,
				Recognition:    recognition,
			},
			mediaLogger,
		)
		if err != nil {
			log.Printf("[WARN] Media pipeline disabled: %v", err)
		} else {
			mediaStreamHandler = handler.NewMediaStreamHandler(mediaHandler, mediaLogger)
		}
	}

	// 6. Controllers
	// Note: We return the container with public fields for the server to register
	return &Container{
		CallController:      controller.NewCallController(callService),
		AdminController:     controller.NewAdminController(sysLogger, mediaLogger, capabilities),
		TelephonyHandler:    handler.NewTelephonyHandler(callService, validator, cfg.App.BaseURL, cfg.Media.Voice, cfg.Media.Language, sysLogger),
		MediaStreamHandler:  mediaStreamHandler,
		Journal:             journal,
		NotificationService: notifService,
		NotificationHandler: handler.NewNotificationHandler(notifService, wsHub, wsLogger),
		WebSocketHub:        wsHub,
		Capabilities:        capabilities,
	}
}
