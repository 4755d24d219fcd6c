package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lox/plantwatch/internal/advice"
	"github.com/lox/plantwatch/internal/api"
	"github.com/lox/plantwatch/internal/archive"
	"github.com/lox/plantwatch/internal/catalog"
	"github.com/lox/plantwatch/internal/dashboard"
	"github.com/lox/plantwatch/internal/push"
	"github.com/lox/plantwatch/internal/store"
	"github.com/lox/plantwatch/internal/telemetry"
)

type ServeCmd struct {
	Addr         string        `env:"PLANTWATCH_ADDR" default:":8080" help:"HTTP listen address."`
	DB           string        `name:"db" env:"PLANTWATCH_DB" default:"data/plantwatch.db" help:"SQLite database for reading history (empty disables it)."`
	Plant        int           `env:"PLANTWATCH_PLANT" default:"1" help:"Plant selected at startup."`
	ForecastDays int           `env:"PLANTWATCH_FORECAST_DAYS" default:"3" help:"Days of forecast to request."`
	FetchTimeout time.Duration `env:"PLANTWATCH_FETCH_TIMEOUT" default:"15s" help:"Timeout for a snapshot fetch."`
	ProbeEvery   time.Duration `env:"PLANTWATCH_PROBE_INTERVAL" default:"1m" help:"Backend health probe interval (0 probes once)."`

	Push         string        `env:"PLANTWATCH_PUSH" enum:"socketio,websocket,mqtt,none" default:"socketio" help:"Push transport (socketio, websocket, mqtt, none)."`
	PushURL      string        `name:"push-url" env:"PLANTWATCH_PUSH_URL" help:"Push server URL (defaults to the backend URL; /socket.io/ for socketio, /ws for websocket)."`
	PushRetries  int           `env:"PLANTWATCH_PUSH_RETRIES" default:"5" help:"Reconnection attempts before giving up."`
	PushInterval time.Duration `env:"PLANTWATCH_PUSH_INTERVAL" default:"1s" help:"Delay between reconnection attempts."`

	MQTTBroker   string `name:"mqtt-broker" env:"PLANTWATCH_MQTT_BROKER" default:"tcp://localhost:1883" help:"MQTT broker URL."`
	MQTTPrefix   string `name:"mqtt-prefix" env:"PLANTWATCH_MQTT_PREFIX" default:"plantwatch" help:"MQTT topic prefix."`
	MQTTUsername string `name:"mqtt-username" env:"PLANTWATCH_MQTT_USERNAME" help:"MQTT username."`
	MQTTPassword string `name:"mqtt-password" env:"PLANTWATCH_MQTT_PASSWORD" help:"MQTT password."`

	InfluxURL    string `name:"influx-url" env:"PLANTWATCH_INFLUX_URL" help:"InfluxDB URL; enables the reading archive."`
	InfluxToken  string `name:"influx-token" env:"PLANTWATCH_INFLUX_TOKEN" help:"InfluxDB API token."`
	InfluxOrg    string `name:"influx-org" env:"PLANTWATCH_INFLUX_ORG" default:"plantwatch" help:"InfluxDB organisation."`
	InfluxBucket string `name:"influx-bucket" env:"PLANTWATCH_INFLUX_BUCKET" default:"readings" help:"InfluxDB bucket."`

	OpenAIKey string `name:"openai-key" env:"OPENAI_API_KEY" help:"Enables generated care suggestions."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	client := telemetry.NewClient(g.BackendURL)
	plants := catalog.New()
	log.Printf("prediction backend at %s", client.BaseURL())

	cfg := dashboard.Config{
		Fetcher:      client,
		Catalog:      plants,
		InitialPlant: c.Plant,
		ForecastDays: c.ForecastDays,
		FetchTimeout: c.FetchTimeout,
	}
	var history api.History

	if c.DB != "" {
		if err := os.MkdirAll(filepath.Dir(c.DB), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.Open(c.DB)
		if err != nil {
			return err
		}
		defer st.Close()
		log.Printf("database ready at %s", c.DB)

		cfg.Sinks = append(cfg.Sinks, st)
		cfg.Events = st
		history = st
		go st.PruneLoop(ctx, time.Hour, log.Printf)
	}

	if c.InfluxURL != "" {
		sink, err := archive.NewInflux(archive.Config{
			URL:    c.InfluxURL,
			Token:  c.InfluxToken,
			Org:    c.InfluxOrg,
			Bucket: c.InfluxBucket,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		cfg.Sinks = append(cfg.Sinks, sink)
		log.Printf("archiving readings to %s (%s/%s)", c.InfluxURL, c.InfluxOrg, c.InfluxBucket)
	}

	var channel *push.Channel
	if transport, err := c.transport(g); err != nil {
		return err
	} else if transport != nil {
		channel = push.NewChannel(transport, push.Config{Retries: c.PushRetries, Interval: c.PushInterval})
		cfg.Push = channel
	} else {
		log.Println("push disabled; refresh manually")
	}

	var advisor advice.Advisor = advice.Static{}
	if c.OpenAIKey != "" {
		a, err := advice.NewOpenAI(c.OpenAIKey, advice.Static{})
		if err != nil {
			return err
		}
		advisor = a
	}

	ctl := dashboard.New(cfg)
	go ctl.Run(ctx)

	if channel != nil {
		channel.Start(ctx)
		defer channel.Stop()
	}
	go probeLoop(ctx, ctl, c.ProbeEvery)

	server := api.NewServer(api.Config{
		Addr:       c.Addr,
		Dashboard:  ctl,
		Forecaster: client,
		Catalog:    plants,
		Advisor:    advisor,
		History:    history,
	})
	return server.Run(ctx)
}

func (c *ServeCmd) transport(g *Globals) (push.Transport, error) {
	switch c.Push {
	case "socketio":
		base := c.PushURL
		if base == "" {
			base = g.BackendURL
		}
		u, err := push.SocketIOURL(base)
		if err != nil {
			return nil, err
		}
		log.Printf("push: socket.io %s", u)
		return push.NewSocketIOTransport(u), nil
	case "websocket":
		u := c.PushURL
		if u == "" {
			derived, err := websocketURL(g.BackendURL)
			if err != nil {
				return nil, err
			}
			u = derived
		}
		log.Printf("push: websocket %s", u)
		return push.NewWebsocketTransport(u), nil
	case "mqtt":
		t := push.NewMQTTTransport(c.MQTTBroker, c.MQTTPrefix)
		t.Username = c.MQTTUsername
		t.Password = c.MQTTPassword
		log.Printf("push: mqtt %s (prefix %s)", c.MQTTBroker, t.Prefix)
		return t, nil
	default:
		return nil, nil
	}
}

// websocketURL maps http(s)://host/base to ws(s)://host/base/ws.
func websocketURL(backend string) (string, error) {
	u, err := url.Parse(backend)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// probeLoop checks backend availability at startup and then every interval.
func probeLoop(ctx context.Context, ctl *dashboard.Controller, every time.Duration) {
	ctl.Probe(ctx)
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctl.Probe(ctx)
		}
	}
}
