package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	rediscommon "hospital-queue/common/redis"
	"hospital-queue/internal/config"
	"hospital-queue/internal/predictor"
)

// queue-model-publish 把训练流水线产出的制品写入引擎读取的存储（目录或 Redis），
// 运行中的引擎在下一次 reload 时生效
func main() {
	storeKind := flag.String("store", "", "Artifact store: file or redis (default: MODEL_STORE)")
	dir := flag.String("dir", "", "Artifact directory for the file store (default: MODEL_ARTIFACT_DIR)")
	list := flag.Bool("list", false, "List live artifacts instead of publishing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *storeKind != "" {
		cfg.Predictor.Store = *storeKind
	}
	if *dir != "" {
		cfg.Predictor.ArtifactDir = *dir
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var store interface {
		predictor.ArtifactStore
		predictor.Publisher
	}
	switch cfg.Predictor.Store {
	case "redis":
		client := rediscommon.NewRedisClient(&cfg.Redis)
		defer rediscommon.Close(client)
		if err := rediscommon.Ping(ctx, client); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		store = predictor.NewRedisArtifactStore(client, cfg.Predictor.RedisPrefix)
	case "file":
		fs, err := predictor.NewFileArtifactStore(cfg.Predictor.ArtifactDir)
		if err != nil {
			log.Fatalf("Failed to open artifact dir: %v", err)
		}
		store = fs
	default:
		log.Fatalf("Unknown artifact store %q", cfg.Predictor.Store)
	}

	if *list {
		refs, err := store.List(ctx)
		if err != nil {
			log.Fatalf("Failed to list artifacts: %v", err)
		}
		for _, ref := range refs {
			fmt.Printf("%-40s %-24s %s\n", ref.Name, ref.Scope, ref.PublishedAt.Format(time.RFC3339))
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: queue-model-publish [-store file|redis] [-dir path] artifact.json ...")
		os.Exit(2)
	}

	failed := 0
	for _, path := range flag.Args() {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("✗ %s: %v", path, err)
			failed++
			continue
		}
		ref, err := predictor.PublishArtifact(ctx, store, raw)
		if err != nil {
			log.Printf("✗ %s: %v", path, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s -> %s\n", path, ref.Name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
