package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"carcrawler/internal/config"
	"carcrawler/internal/crawl"
	"carcrawler/internal/extract"
	"carcrawler/internal/fetch"
	"carcrawler/internal/notify"
	"carcrawler/internal/storage"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid LOG_LEVEL %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	log.SetLevel(level)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Crawl aborted")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"website":         params.Website,
		"concurrency":     cfg.Concurrency,
		"flush_threshold": cfg.FlushThreshold,
		"store":           cfg.Store,
	}).Info("Configuration loaded successfully")

	// --- Initialize Components ---
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("Error closing batch store")
		}
	}()

	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		Headers:   params.Headers,
		Cookies:   params.Cookies,
	}, log)

	var pages fetch.PageGetter = httpFetcher
	if cfg.BrowserPagination {
		browser, err := fetch.NewBrowserFetcher(cfg.RequestTimeout, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := browser.Close(); err != nil {
				log.WithError(err).Error("Error closing browser")
			}
		}()
		pages = browser
	}

	var images fetch.ByteGetter
	if cfg.DownloadImages {
		images = httpFetcher
	}
	site := extract.NewHasznaltauto(images, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotificationsEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			return err
		}
		notifier = tg
	}

	crawler := crawl.New(
		pages,
		site,
		crawl.NewPool(crawl.NewListingScraper(httpFetcher, site), cfg.Concurrency, log),
		storage.NewBatchWriter(store, cfg.FlushThreshold, log),
		notifier,
		crawl.Options{MaxPages: cfg.MaxPages},
		log,
	)

	// --- Application Startup ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = crawler.Run(ctx, params.Website)
	return err
}

func openStore(cfg config.Config, log logrus.FieldLogger) (storage.BatchStore, error) {
	if cfg.Store == config.StoreBadger {
		store, err := storage.NewBadgerStore(cfg.BadgerDBPath, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	var codec storage.Codec = storage.JSONCodec{}
	if cfg.BatchFormat == config.FormatXLSX {
		codec = storage.XLSXCodec{}
	}
	store, err := storage.NewFileStore(cfg.DataDir, codec, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}
