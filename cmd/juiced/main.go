// Command juiced drives a J1772 charging station: pilot signalling, GFI
// supervision, power interlock, and MQTT/HTTP reporting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkronst/juiced/internal/adc"
	"github.com/dkronst/juiced/internal/config"
	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/gfi"
	"github.com/dkronst/juiced/internal/gpio"
	"github.com/dkronst/juiced/internal/meter"
	"github.com/dkronst/juiced/internal/mqtt"
	"github.com/dkronst/juiced/internal/pilot"
	"github.com/dkronst/juiced/internal/power"
	"github.com/dkronst/juiced/internal/status"
	"github.com/dkronst/juiced/internal/web"
)

func main() {
	def := config.Default()

	configPath := flag.String("config", "", "YAML config file (flags override it)")
	poll := flag.Duration("poll", def.Poll.Std(), "Pilot sampling interval")
	heartbeat := flag.Duration("heartbeat", def.Heartbeat.Std(), "Heartbeat interval (0 to disable)")
	amps := flag.Float64("amps", def.OfferAmps, "Advertised charge current (A)")
	broker := flag.String("broker", def.Broker, "MQTT broker address")
	watchdogHz := flag.Int("watchdog-hz", def.WatchdogHz, "Watchdog toggle frequency")
	httpAddr := flag.String("http", def.HTTPAddr, "HTTP status address (empty to disable)")
	wsBroker := flag.String("ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	spiPort := flag.String("spi", def.SPIPort, "SPI port name (empty selects the first)")
	printState := flag.Bool("print-state", false, "Print current pilot state and exit")

	flag.Parse()

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	// Explicitly set flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Poll = config.Duration(*poll)
		case "heartbeat":
			cfg.Heartbeat = config.Duration(*heartbeat)
		case "amps":
			cfg.OfferAmps = *amps
		case "broker":
			cfg.Broker = *broker
		case "watchdog-hz":
			cfg.WatchdogHz = *watchdogHz
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "ws-broker":
			cfg.WSBroker = *wsBroker
		case "spi":
			cfg.SPIPort = *spiPort
		}
	})
	if cfg.WSBroker == "" {
		cfg.WSBroker = *wsBroker
	}
	cfg.WSBroker = resolveWSBroker(cfg.WSBroker, cfg.Broker)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, printState bool) error {
	// The ADC serves the pilot sampler and the meter.
	conv, err := adc.NewMCP3008(cfg.SPIPort)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer conv.Close()

	sampler := pilot.NewSampler(conv)

	// Print state mode
	if printState {
		w, err := sampler.Sample()
		if err != nil {
			return fmt.Errorf("sample pilot: %w", err)
		}
		fmt.Printf("pilot: %s (high %.1f V, low %.1f V)\n", w.State(), w.HighVolts, w.LowVolts)
		return nil
	}

	chip, err := gpio.OpenChip("gpiochip0")
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}
	defer chip.Close()

	watchdog, err := chip.RequestOutput(cfg.Pins.Watchdog)
	if err != nil {
		return fmt.Errorf("request watchdog line: %w", err)
	}
	relay, err := chip.RequestOutput(cfg.Pins.Relay)
	if err != nil {
		return fmt.Errorf("request relay line: %w", err)
	}
	gfiTest, err := chip.RequestOutput(cfg.Pins.GfiTest)
	if err != nil {
		return fmt.Errorf("request gfi test line: %w", err)
	}
	gfiReset, err := chip.RequestOutput(cfg.Pins.GfiReset)
	if err != nil {
		return fmt.Errorf("request gfi reset line: %w", err)
	}
	gfiStatus, err := chip.RequestInput(cfg.Pins.GfiStatus)
	if err != nil {
		return fmt.Errorf("request gfi status line: %w", err)
	}
	relayTest, err := chip.RequestInput(cfg.Pins.RelayTest)
	if err != nil {
		return fmt.Errorf("request relay test line: %w", err)
	}

	pwm, err := pilot.NewSysfsPWM(cfg.PWMPath)
	if err != nil {
		return fmt.Errorf("open pilot pwm: %w", err)
	}
	driver, err := pilot.NewDriver(pwm)
	if err != nil {
		return fmt.Errorf("init pilot: %w", err)
	}
	defer driver.Close()
	// Leave the pilot pinned high on exit regardless of how the loop ended.
	defer func() {
		if err := driver.SetDuty(pilot.ForcedHigh()); err != nil {
			log.Printf("force pilot high on exit: %v", err)
		}
	}()

	interlock := power.New(relay, watchdog, relayTest, cfg.WatchdogHz)
	defer interlock.Off()

	supervisor := gfi.New(gfiStatus, gfiTest, gfiReset)

	machine := evse.NewMachine(driver, supervisor, interlock, evse.Config{
		OfferAmps:   cfg.OfferAmps,
		GraceWindow: cfg.GraceWindow.Std(),
		GfiHoldoff:  cfg.GfiHoldoff.Std(),
	})

	em := meter.New(conv)

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.Broker)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Std().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Std().Milliseconds(),
		OfferAmps:   cfg.OfferAmps,
		WatchdogHz:  cfg.WatchdogHz,
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTPAddr,
		WSBroker:    cfg.WSBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	log.Printf("started: poll=%v amps=%.0f broker=%s watchdog=%dHz heartbeat=%v",
		cfg.Poll.Std(), cfg.OfferAmps, cfg.Broker, cfg.WatchdogHz, cfg.Heartbeat.Std())

	ticker := time.NewTicker(cfg.Poll.Std())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var srv *web.Server
	var g errgroup.Group
	if cfg.HTTPAddr != "" {
		srv = web.New(cfg.HTTPAddr, tracker)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}
	g.Go(func() error {
		err := runLoop(machine, sampler, em, publisher, publisher, tracker, cfg.Heartbeat.Std(), time.Now, ticker.C, sigCh)
		if srv != nil {
			srv.Shutdown(context.Background())
		}
		return err
	})
	return g.Wait()
}

// windowSampler matches pilot.Sampler; injected so the loop is testable.
type windowSampler interface {
	Sample() (pilot.Window, error)
}

// currentMeter matches meter.Meter.
type currentMeter interface {
	Measure() (meter.Measurement, error)
}

// telemetryInterval is how often meter readings are published while charging.
const telemetryInterval = 10 * time.Second

func runLoop(machine *evse.Machine, sampler windowSampler, em currentMeter, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	lastHeartbeat := startTime
	var lastTelemetry time.Time

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			w, serr := sampler.Sample()
			if serr != nil {
				log.Printf("pilot sample error: %v", serr)
			}

			events, ferr := machine.Step(w, serr == nil, t)
			for _, event := range events {
				if event.Fault != nil {
					log.Printf("event: %s %s (pilot %s, power %s)", event.Type, event.Fault, event.To, event.Power)
				} else {
					log.Printf("event: %s %s->%s (power %s)", event.Type, event.From, event.To, event.Power)
				}
				if err := publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}

			updateTracker(tracker, machine, mqttStatus)

			if ferr != nil {
				// The safe state could not be programmed; surface and die.
				fatal := mqtt.SystemEvent{
					Timestamp: t,
					Event:     "FATAL",
					Reason:    ferr.Error(),
					Retained:  true,
				}
				if err := publisher.PublishSystem(fatal); err != nil {
					log.Printf("failed to publish fatal event: %v", err)
				}
				return ferr
			}

			if machine.PowerState() == evse.PowerOn && t.Sub(lastTelemetry) >= telemetryInterval {
				lastTelemetry = t
				m, merr := em.Measure()
				if merr != nil {
					log.Printf("meter: %v", merr)
				}
				if tracker != nil {
					tracker.SetMeter(m, t)
				}
				if err := publisher.PublishTelemetry(m, t); err != nil {
					log.Printf("telemetry publish error: %v", err)
				}
			}

			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				counts := machine.Counts()
				log.Printf("heartbeat: uptime=%v pilot=%s power=%s changes=%d faults=%d",
					t.Sub(startTime).Truncate(time.Second), machine.State(), machine.PowerState(),
					counts.StateChanges, counts.Faults)

				hbEvent := mqtt.SystemEvent{
					Timestamp: t,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

func updateTracker(tracker *status.Tracker, machine *evse.Machine, mqttStatus mqtt.ConnectionStatus) {
	if tracker == nil {
		return
	}
	tracker.Update(machine.State(), machine.PowerState(), machine.Baselined(), machine.Fault(), machine.Counts())
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or
// empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
