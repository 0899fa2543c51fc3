package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"lifeisbonusBack/internal/config"
	"lifeisbonusBack/internal/handlers"
	"lifeisbonusBack/internal/logger"
	"lifeisbonusBack/internal/metrics"
	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
	"lifeisbonusBack/internal/services"
	"lifeisbonusBack/utils"
)

// IDTokenVerifier is satisfied by *auth.Client.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type application struct {
	log     zerolog.Logger
	metrics metrics.Recorder
	redis   *redis.Client

	auth     IDTokenVerifier
	triggers *utils.Manager

	premiumHandler   *handlers.PremiumHandler
	rtdnHandler      *handlers.GoogleRTDNHandler
	chatHandler      *handlers.ChatHandler
	kakaoHandler     *handlers.KakaoHandler
	pushTokenHandler *handlers.PushTokenHandler
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) (*application, error) {
	rec := metrics.New(cfg.Server.MetricsEnabled)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var fbOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		fbOpts = append(fbOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, fbOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	authClient, err := fbApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	messagingClient, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}

	// Repositories
	entitlementRepo := repositories.NewEntitlementRepository(db)
	purchaseTokenRepo := repositories.NewPurchaseTokenRepository(db)
	chatRepo := repositories.NewChatRepository(db)
	notifyTokenRepo := repositories.NewNotifyTokenRepository(db)
	deliveryGuard := repositories.NewRedisDeliveryGuard(rdb, cfg.Redis.PushDedupTTL)

	// Store verifiers
	var verifiers []services.Verifier
	if cfg.Premium.AppleSharedSecret != "" {
		apple, err := services.NewAppleVerifier(services.AppleIAPConfig{SharedSecret: cfg.Premium.AppleSharedSecret}, logger.Component(log, "apple_iap"))
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, apple)
	} else {
		log.Warn().Msg("APPLE_SHARED_SECRET not set, iOS verification disabled")
	}
	var google *services.GoogleVerifier
	if cfg.Premium.GoogleServiceAccountJSON != "" {
		google, err = services.NewGoogleVerifier(ctx, services.GooglePlayConfig{
			PackageName:        cfg.Premium.AndroidPackageName,
			ServiceAccountJSON: cfg.Premium.GoogleServiceAccountJSON,
		}, logger.Component(log, "google_play"))
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, google)
	} else {
		log.Warn().Msg("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON not set, Android verification disabled")
	}

	// Services
	entitlementService := services.NewEntitlementService(entitlementRepo, purchaseTokenRepo, logger.Component(log, "entitlements"))
	premiumService := &services.PremiumService{
		Verifiers:          services.NewVerifierSet(verifiers...),
		Entitlements:       entitlementService,
		AllowedProducts:    cfg.AllowedProducts(),
		DefaultPackageName: cfg.Premium.AndroidPackageName,
		Metrics:            rec,
		Log:                logger.Component(log, "premium"),
	}
	rtdnService := &services.RTDNService{
		Tokens:       purchaseTokenRepo,
		Entitlements: entitlementService,
		Metrics:      rec,
		Log:          logger.Component(log, "rtdn"),
		Now:          time.Now,
	}
	if google != nil {
		rtdnService.Verifier = google
	} else {
		rtdnService.Verifier = unavailableVerifier{}
	}
	dispatcher := services.NewPushDispatcher(chatRepo, notifyTokenRepo, messagingClient, deliveryGuard, rec, logger.Component(log, "push"))
	chatService := services.NewChatService(chatRepo, dispatcher, logger.Component(log, "chat"))
	kakaoService := services.NewKakaoAuthService(cfg.Kakao.APIBase, authClient, logger.Component(log, "kakao"))

	var validator handlers.TokenValidator
	if cfg.Premium.PubSubAudience != "" {
		v, err := idtoken.NewValidator(ctx)
		if err != nil {
			return nil, fmt.Errorf("pubsub token validator: %w", err)
		}
		validator = v
	}

	var triggers *utils.Manager
	if cfg.Trigger.SigningKey != "" {
		triggers, err = utils.NewManager(cfg.Trigger.SigningKey)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("TRIGGER_SIGNING_KEY not set, message trigger endpoint disabled")
	}

	return &application{
		log:      log,
		metrics:  rec,
		redis:    rdb,
		auth:     authClient,
		triggers: triggers,

		premiumHandler:   handlers.NewPremiumHandler(premiumService, entitlementRepo, logger.Component(log, "premium_http")),
		rtdnHandler:      handlers.NewGoogleRTDNHandler(rtdnService, cfg.Premium.RTDNTopic, cfg.Premium.PubSubAudience, validator, logger.Component(log, "rtdn_http")),
		chatHandler:      handlers.NewChatHandler(chatService, dispatcher, logger.Component(log, "chat_http")),
		kakaoHandler:     handlers.NewKakaoHandler(kakaoService, logger.Component(log, "kakao_http")),
		pushTokenHandler: handlers.NewPushTokenHandler(notifyTokenRepo, logger.Component(log, "push_http")),
	}, nil
}

// unavailableVerifier makes mapped notifications fail, and so be redelivered, until Play access is configured.
type unavailableVerifier struct{}

func (unavailableVerifier) Platform() models.Platform { return models.PlatformAndroid }

func (unavailableVerifier) Verify(context.Context, string, string, services.PlatformContext) (models.Verification, error) {
	return models.Verification{}, errors.New("google play verification is not configured")
}

func openDB(dsn string) (*sql.DB, error) {
	dbCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	dbCfg.ParseTime = true
	dbCfg.Loc = time.UTC

	db, err := sql.Open("mysql", dbCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxIdleConns(35)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
