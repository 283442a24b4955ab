package main

import (
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/cluster/k8s"
	redisstore "github.com/xraph/courier/store/redis"
)

// newElector returns the leader elector for maintenance tasks. The
// returned closer releases any connection the elector opened itself.
func newElector(cfg envConfig, logger *slog.Logger) (cluster.Elector, func() error, error) {
	switch cfg.LeaderElection {
	case electRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return redisstore.NewElector(client), client.Close, nil

	case electK8s:
		rc, err := rest.InClusterConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("in-cluster config: %w", err)
		}
		cs, err := kubernetes.NewForConfig(rc)
		if err != nil {
			return nil, nil, fmt.Errorf("kubernetes client: %w", err)
		}
		e := k8s.New(cs, cfg.LeaseNamespace,
			k8s.WithLeaseName(cfg.LeaseName),
			k8s.WithLogger(logger),
		)
		return e, nil, nil

	default:
		return cluster.Local{}, nil, nil
	}
}
