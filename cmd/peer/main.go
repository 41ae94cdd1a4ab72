// Command peer is a headless canvas peer. It joins a hub, keeps a local copy
// of the canvas in sync, and can draw a test stroke from a simulated device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Alexandr23/shared-canvas/canvas"
	"github.com/Alexandr23/shared-canvas/client"
	"github.com/Alexandr23/shared-canvas/config"
	"github.com/Alexandr23/shared-canvas/discovery"
	"github.com/Alexandr23/shared-canvas/domain"
	"github.com/Alexandr23/shared-canvas/geometry"
)

func main() {
	if err := mainInner(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	urlVar := flag.String("url", "", "hub websocket URL, discovered over mDNS when empty")
	identityVar := flag.String("identity", defaultIdentityPath(), "file holding the resumable user id")
	widthVar := flag.Float64("width", 800, "simulated device canvas width in pixels")
	heightVar := flag.Float64("height", 600, "simulated device canvas height in pixels")
	colorVar := flag.String("color", "", "select this #rrggbb color after joining")
	drawVar := flag.Int("draw", 0, "number of points in a test stroke drawn after joining")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := *urlVar
	if url == "" {
		if url, err = discover(ctx, cfg); err != nil {
			return err
		}
	}

	peer := client.NewPeer(url,
		client.WithIdentity(client.NewFileIdentity(*identityVar)),
		client.WithCorrelatorOptions(client.WithTimeout(cfg.RequestTimeout)),
	)
	defer peer.Close()

	scale := geometry.FitSquare(*widthVar, *heightVar)
	unsubscribe := peer.Store().Subscribe(func(s canvas.State) {
		slog.Debug("canvas updated", "lines", len(s.Lines), "users", len(s.Users))
	})
	defer unsubscribe()

	joined := firstOnly(func(user domain.User) {
		act(ctx, peer, user, scale, *colorVar, *drawVar, *widthVar, *heightVar)
	})
	slog.Info("joining hub", "url", url, "scale", float64(scale))
	return peer.Run(ctx, func(user domain.User) {
		logRoster(peer.Store().Snapshot())
		joined(user)
	})
}

// firstOnly runs fn for the first join only; later resyncs skip it.
func firstOnly(fn func(domain.User)) func(domain.User) {
	var once sync.Once
	return func(user domain.User) {
		once.Do(func() { fn(user) })
	}
}

func act(ctx context.Context, peer *client.Peer, user domain.User, scale geometry.Scale, color string, points int, width, height float64) {
	if color != "" {
		if _, err := peer.SelectColor(ctx, color); err != nil {
			slog.Error("failed to select color", "color", color, "error", err)
		}
	} else {
		color = user.Color
	}
	if points <= 0 {
		return
	}

	draft := geometry.NormalizeDraft(testStroke(points, width, height, color), scale)
	line, err := peer.CreateLine(ctx, draft)
	if err != nil {
		slog.Error("failed to draw", "error", err)
		return
	}
	slog.Info("line created", "lineId", line.ID, "points", len(line.Points))
}

func discover(ctx context.Context, cfg config.Config) (string, error) {
	urls, err := discovery.Browse(ctx, 3*time.Second)
	if err != nil {
		slog.Warn("mDNS browse failed", "error", err)
	}
	if len(urls) > 0 {
		slog.Info("discovered hubs", "urls", urls)
		return urls[0], nil
	}
	fallback := fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
	slog.Info("no hub discovered, using local hub", "url", fallback)
	return fallback, nil
}

// testStroke is a sine wave across the largest square of the device canvas,
// with pressure rising along the stroke.
func testStroke(points int, width, height float64, color string) domain.LineDraft {
	side := math.Min(width, height)
	draft := domain.LineDraft{Color: color}
	for i := 0; i < points; i++ {
		t := float64(i) / float64(max(points-1, 1))
		pressure := 0.3 + 0.7*t
		draft.Points = append(draft.Points, domain.Point{
			X:        side * (0.1 + 0.8*t),
			Y:        side * (0.5 + 0.3*math.Sin(2*math.Pi*t)),
			Pressure: &pressure,
		})
	}
	return draft
}

func logRoster(s canvas.State) {
	names := make([]string, len(s.Users))
	for i, u := range s.Users {
		names[i] = u.Name
	}
	var me string
	if s.CurrentUser != nil {
		me = s.CurrentUser.Name
	}
	slog.Info("canvas synced", "user", me, "online", names, "lines", len(s.Lines))
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".shared-canvas-identity"
	}
	return filepath.Join(dir, "shared-canvas", "identity")
}
