package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/model"
	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/pkg/database"
	"github.com/d60-Lab/wall/pkg/logger"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	cfg := must(config.Load(os.Getenv("CONFIG"), nil))
	cfg.Log.Level = "warn"
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	db := must(database.InitDB(cfg))
	if err := repository.AutoMigrate(db); err != nil {
		panic(err)
	}
	ctx := context.Background()

	// params
	POSTS := envInt("POSTS", 500)
	SUBS := envInt("SUBS", 8)
	WORKERS := envInt("WORKERS", cfg.Realtime.RelayWorkers)
	CLAIM := envInt("CLAIM", cfg.Realtime.RelayClaim)
	if cfg.Database.Driver == "sqlite" && WORKERS > 1 {
		fmt.Println("sqlite: WORKERS forced to 1")
		WORKERS = 1
	}

	// 清空表，保证可重复
	_ = db.Exec("DELETE FROM post_changes").Error
	_ = db.Exec("DELETE FROM posts").Error

	broker := must(realtime.Open(ctx, cfg, nil))
	defer broker.Close()

	// subscribers: record publish->receive latency by post id
	started := make(map[string]time.Time, POSTS)
	type sample struct {
		id string
		at time.Time
	}
	recv := make(chan sample, POSTS*SUBS)
	for i := 0; i < SUBS; i++ {
		sub := must(broker.Subscribe(ctx))
		defer sub.Close()
		go func() {
			for c := range sub.C {
				if c.Type != model.ChangeInsert {
					continue
				}
				var p struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(c.Record, &p); err == nil {
					recv <- sample{id: p.ID, at: time.Now()}
				}
			}
		}()
	}

	relay := realtime.NewRelay(db, broker, WORKERS, CLAIM, cfg.Realtime.RelayPoll)
	stop := relay.Start()
	defer stop(ctx)

	repo := repository.NewPostRepository(db)
	insert := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		p := &model.Post{Author: "bench", Content: fmt.Sprintf("hello %d", i)}
		token := uuid.NewString()
		p.ClientToken = &token
		st := time.Now()
		if err := repo.Create(ctx, p); err != nil {
			panic(err)
		}
		insert = append(insert, time.Since(st))
		started[p.ID] = st
	}

	land := make([]time.Duration, 0, POSTS)
	deliver := make([]time.Duration, 0, POSTS*SUBS)
	timeout := time.After(2 * time.Minute)
	for len(deliver) < POSTS*SUBS {
		select {
		case d := <-relay.Metrics():
			land = append(land, d)
		case s := <-recv:
			if st, ok := started[s.id]; ok {
				deliver = append(deliver, s.at.Sub(st))
			}
		case <-timeout:
			fmt.Printf("timeout while waiting for deliveries: got=%d want=%d\n", len(deliver), POSTS*SUBS)
			goto PRINT
		}
	}

PRINT:
	fmt.Printf("POSTS=%d SUBS=%d WORKERS=%d CLAIM=%d backend=%s db=%s\n",
		POSTS, SUBS, WORKERS, CLAIM, cfg.Realtime.Backend, cfg.Database.Driver)
	fmt.Printf("Insert tx latency: avg=%v p95=%v p99=%v\n", avg(insert), pct(insert, 0.95), pct(insert, 0.99))
	fmt.Printf("Relay landing (outbox->published): samples=%d avg=%v p95=%v p99=%v\n", len(land), avg(land), pct(land, 0.95), pct(land, 0.99))
	fmt.Printf("Subscriber delivery (insert->received): samples=%d avg=%v p95=%v p99=%v\n", len(deliver), avg(deliver), pct(deliver, 0.95), pct(deliver, 0.99))

	st := time.Now()
	rows := must(repo.ListRecent(ctx, cfg.Wall.FeedLimit))
	fmt.Printf("Feed read (limit=%d): %v, rows=%d\n", cfg.Wall.FeedLimit, time.Since(st), len(rows))
}
