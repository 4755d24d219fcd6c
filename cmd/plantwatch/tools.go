package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lox/plantwatch/internal/simulate"
	"github.com/lox/plantwatch/internal/telemetry"
)

type SimulateCmd struct {
	Plants   []int         `env:"PLANTWATCH_SIM_PLANTS" default:"1,2,3,4" help:"Plant ids to simulate."`
	Interval time.Duration `env:"PLANTWATCH_SIM_INTERVAL" default:"5s" help:"Delay between readings."`
	Scenario string        `env:"PLANTWATCH_SIM_SCENARIO" enum:"normal,healthy,drought,overwatering,nutrient_deficiency" default:"normal" help:"Condition to simulate."`
	Seed     int64         `help:"Random seed (0 picks one from the clock)."`
	Once     bool          `help:"Send one reading per plant and exit."`
}

func (c *SimulateCmd) Run(ctx context.Context, g *Globals) error {
	scenario, err := simulate.ParseScenario(c.Scenario)
	if err != nil {
		return err
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	runner, err := simulate.NewRunner(telemetry.NewClient(g.BackendURL), simulate.Config{
		Plants:   c.Plants,
		Interval: c.Interval,
		Scenario: scenario,
		Seed:     seed,
	})
	if err != nil {
		return err
	}
	if c.Once {
		if sent := runner.Tick(ctx); sent < len(c.Plants) {
			return fmt.Errorf("sent %d of %d readings", sent, len(c.Plants))
		}
		return nil
	}
	return runner.Run(ctx)
}

type ProbeCmd struct {
	Plant   int           `help:"Also fetch the prediction and forecast for this plant."`
	Timeout time.Duration `default:"10s" help:"Probe timeout."`
}

func (c *ProbeCmd) Run(ctx context.Context, g *Globals) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	client := telemetry.NewClient(g.BackendURL, telemetry.WithRetryBudget(0))
	status, err := client.Health(ctx)
	if err != nil {
		if errors.Is(err, telemetry.ErrUnavailable) || errors.Is(err, telemetry.ErrTimeout) {
			return fmt.Errorf("backend at %s is unavailable: %w", client.BaseURL(), err)
		}
		return err
	}
	fmt.Printf("backend %s: status=%s model_loaded=%t", client.BaseURL(), status.Status, status.ModelLoaded)
	if status.Version != "" {
		fmt.Printf(" version=%s", status.Version)
	}
	fmt.Println()

	if c.Plant == 0 {
		return nil
	}
	health, err := client.Predict(ctx, c.Plant)
	if err != nil {
		return fmt.Errorf("predict plant %d: %w", c.Plant, err)
	}
	label, conf := health.TopConfidence()
	fmt.Printf("plant %d: %s (%s %.0f%%)\n", c.Plant, health.PredictedHealth, label, conf*100)

	forecast, err := client.Forecast(ctx, c.Plant, telemetry.DefaultForecastDays)
	if err != nil {
		return fmt.Errorf("forecast plant %d: %w", c.Plant, err)
	}
	fmt.Printf("forecast: %d points over %d days\n", len(forecast.Points), forecast.Days)
	return nil
}
