package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"decsecmsg/config"
	"decsecmsg/contentstore"
	"decsecmsg/crypto"
	"decsecmsg/engine"
	"decsecmsg/restapi"
	"decsecmsg/storage"
	"decsecmsg/transport"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	keys, err := crypto.EnsureKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath)
	if err != nil {
		log.Fatalf("startup failed while preparing identity keypair: %v", err)
	}

	fmt.Printf("Client ID:       %s\n", cfg.ClientID)
	fmt.Printf("Server URL:      %s\n", cfg.ServerURL)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.Fingerprint(keys.Public)))
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	cache, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	api := restapi.New(cfg.ServerURL, nil)
	blobs := contentstore.New(cfg.BlobStoreURL, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := resolveSession(ctx, cfg, cfgPath, api, keys)
	if err != nil {
		log.Fatalf("startup failed while resolving session: %v", err)
	}
	fmt.Printf("User:            %s (%s)\n", session.Username, session.UserID)

	conn := transport.Dial(transport.Options{
		ServerURL: cfg.ServerURL,
		Username:  session.Username,
	})
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("transport close error: %v", err)
		}
	}()

	core, err := engine.New(engine.Options{
		Session: session,
		API:     api,
		Blobs:   blobs,
		Cache:   cache,
		Inbound: conn.Inbound(),
	})
	if err != nil {
		log.Fatalf("startup failed while building engine: %v", err)
	}

	if _, err := core.RefreshContacts(ctx); err != nil {
		log.Printf("contact refresh failed: %v", err)
	}

	go core.Run(ctx)

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// resolveSession reuses the registered identity from config or registers a
// new account when none exists. Registration needs DECSECMSG_USERNAME or a
// username already present in config.json.
func resolveSession(ctx context.Context, cfg *config.ClientConfig, cfgPath string, api *restapi.Client, keys *crypto.KeyPair) (*engine.Session, error) {
	if cfg.UserID != "" {
		return engine.NewSession(cfg.UserID, cfg.Username, keys)
	}

	if cfg.Username == "" {
		return nil, fmt.Errorf("no registered user; set DECSECMSG_USERNAME to register")
	}

	session, err := engine.Register(ctx, api, cfg.Username, keys)
	if err != nil {
		return nil, err
	}

	cfg.UserID = session.UserID
	cfg.Username = session.Username
	if err := config.Save(cfgPath, cfg); err != nil {
		return nil, fmt.Errorf("persist registered identity: %w", err)
	}

	return session, nil
}
