package main

import (
	"log"
	"os"
	"strings"

	"worldstream.ai/internal/persistence/s3mirror"
)

// openLogMirror returns nil unless WS_MIRROR_ENDPOINT is set.
func openLogMirror(dataDir, serverID string, logger *log.Logger) (*s3mirror.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("WS_MIRROR_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	client, err := s3mirror.New(s3mirror.Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("WS_MIRROR_BUCKET"),
		Region:          os.Getenv("WS_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("WS_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("WS_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(os.Getenv("WS_MIRROR_PREFIX"))
	if prefix == "" {
		prefix = serverID
	}
	m := s3mirror.NewMirror(client, dataDir, prefix,
		envInt("WS_MIRROR_WORKERS", 2), envInt("WS_MIRROR_QUEUE", 256), logger)
	logger.Printf("log mirror enabled endpoint=%s prefix=%s", endpoint, prefix)
	return m, nil
}
