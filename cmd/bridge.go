// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose pumps and the chlorinator over MQTT",
	Long: `Run the bus link headless and bridge it to an MQTT broker.

Subscriptions (prefix from mqtt.prefix, default "poolstat"):
  <prefix>/pump/<n>/set          "off" or {"mode":"rpm","value":2000,"duration":60}
  <prefix>/chlorinator/set       {"pool":40,"spa":10,"superChlorinate":0} or a pool level
  <prefix>/command               any console command line

Publications:
  <prefix>/status                online / offline (retained, last will)
  <prefix>/pump/<n>/state        run state, every mqtt.publishInterval (retained)
  <prefix>/chlorinator/state     levels and output (retained)
  <prefix>/stats                 link counters
  <prefix>/event                 abandoned commands
  <prefix>/command/result        output of <prefix>/command
  <prefix>/frame/<family>        every frame, when mqtt.publishFrames is set

Broker credentials come from the config file or POOLSTAT_MQTT_USER and
POOLSTAT_MQTT_PASSWORD.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

// pumpRequest is the JSON body of a pump set message
type pumpRequest struct {
	Mode     string `json:"mode"`
	Value    int    `json:"value"`
	Duration *int   `json:"duration,omitempty"`
}

// chlorinatorRequest is the JSON body of a chlorinator set message
type chlorinatorRequest struct {
	Pool            int `json:"pool"`
	Spa             int `json:"spa"`
	SuperChlorinate int `json:"superChlorinate"`
}

// bridgeStats is the published subset of the link statistics
type bridgeStats struct {
	Frames         uint64  `json:"frames"`
	ValidFrames    uint64  `json:"validFrames"`
	ChecksumErrors uint64  `json:"checksumErrors"`
	Duplicates     uint64  `json:"duplicates"`
	Anomalies      uint64  `json:"anomalies"`
	Writes         uint64  `json:"writes"`
	Acks           uint64  `json:"acks"`
	Retries        uint64  `json:"retries"`
	Abandoned      uint64  `json:"abandoned"`
	QueueLength    int     `json:"queueLength"`
	FrameRate      float64 `json:"frameRate"`
	Verbose        bool    `json:"verbose"`
}

// bridgeFrame is the JSON body of a frame publication
type bridgeFrame struct {
	Time    time.Time `json:"time"`
	Action  string    `json:"action"`
	Source  string    `json:"source"`
	Dest    string    `json:"dest"`
	Payload string    `json:"payload,omitempty"`
}

// bridge connects link operations to MQTT topics
type bridge struct {
	link    *link.Link
	log     *logrus.Logger
	prefix  string
	publish func(topic string, retained bool, payload []byte)
}

func (b *bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *bridge) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.WithError(err).WithField("topic", topic).Error("failed to encode message")
		return
	}
	b.publish(topic, retained, payload)
}

// pumpIndex extracts n from <prefix>/pump/<n>/set
func (b *bridge) pumpIndex(topic string) (int, error) {
	rest := strings.TrimPrefix(topic, b.prefix+"/pump/")
	parts := strings.Split(rest, "/")
	if rest == topic || len(parts) != 2 {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	return parseInt("pump", parts[0])
}

// handlePumpSet runs or stops a pump
func (b *bridge) handlePumpSet(topic string, payload []byte) error {
	index, err := b.pumpIndex(topic)
	if err != nil {
		return err
	}

	body := bytes.TrimSpace(payload)
	if strings.EqualFold(string(body), "off") {
		err = b.link.OffCommand(index)
	} else {
		var req pumpRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("pump %d: invalid request: %w", index, err)
		}
		mode, ok := link.ParsePumpMode(req.Mode)
		if !ok {
			return fmt.Errorf("pump %d: unknown mode %q", index, req.Mode)
		}
		duration := link.NoDuration
		if req.Duration != nil {
			duration = *req.Duration
		}
		if mode == link.PumpOff {
			err = b.link.OffCommand(index)
		} else {
			err = b.link.RunCommand(index, mode, req.Value, duration)
		}
	}
	if err != nil {
		return err
	}
	b.publishPumps()
	return nil
}

// handleChlorinatorSet applies new chlorinator levels
func (b *bridge) handleChlorinatorSet(payload []byte) error {
	body := bytes.TrimSpace(payload)
	var req chlorinatorRequest
	if pool, err := strconv.Atoi(string(body)); err == nil {
		req.Pool = pool
	} else if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("chlorinator: invalid request: %w", err)
	}

	if err := b.link.Chlorinator().SetLevel(req.Pool, req.Spa, req.SuperChlorinate); err != nil {
		return err
	}
	b.publishChlorinator()
	return nil
}

// handleCommand runs a console command and publishes its output
func (b *bridge) handleCommand(payload []byte) error {
	var out bytes.Buffer
	c := &console{link: b.link, out: &out}
	err := c.execute(string(payload))
	if errors.Is(err, errQuit) {
		err = errors.New("quit is not available over MQTT")
	}
	if err != nil {
		fmt.Fprintf(&out, "Error: %v\n", err)
	}
	b.publish(b.topic("command", "result"), false, out.Bytes())
	return err
}

func (b *bridge) publishPumps() {
	for _, s := range b.link.PumpStates() {
		b.publishJSON(b.topic("pump", strconv.Itoa(s.Index), "state"), true, s)
	}
}

func (b *bridge) publishChlorinator() {
	if !b.link.Settings().Chlorinator.Installed {
		return
	}
	b.publishJSON(b.topic("chlorinator", "state"), true, b.link.Chlorinator().State())
}

func (b *bridge) publishStats() {
	st := b.link.Stats()
	st.CalculateRates()
	b.publishJSON(b.topic("stats"), false, bridgeStats{
		Frames:         st.TotalFrames,
		ValidFrames:    st.ValidFrames,
		ChecksumErrors: st.ChecksumErrors,
		Duplicates:     st.Duplicates,
		Anomalies:      st.Anomalies,
		Writes:         st.Writes,
		Acks:           st.Acks,
		Retries:        st.Retries,
		Abandoned:      st.Abandoned,
		QueueLength:    b.link.QueueLength(),
		FrameRate:      st.FrameRate,
		Verbose:        b.link.Verbose(),
	})
}

func (b *bridge) publishAll() {
	b.publishPumps()
	b.publishChlorinator()
	b.publishStats()
}

// frameHandler publishes every forwarded frame under its family
func (b *bridge) frameHandler(f *poolbus.Frame, family poolbus.Family) {
	msg := bridgeFrame{
		Time:   f.Timestamp(),
		Action: poolbus.FormatAction(family, f.Action()),
		Source: poolbus.FormatAddress(f.Source()),
		Dest:   poolbus.FormatAddress(f.Dest()),
	}
	if payload := f.Payload(); len(payload) > 0 {
		msg.Payload = poolbus.FormatHex(payload)
	}
	b.publishJSON(b.topic("frame", family.String()), false, msg)
}

// completionHandler reports abandoned commands
func (b *bridge) completionHandler(w link.PendingWrite, err error) {
	if !errors.Is(err, link.ErrAckTimeout) {
		return
	}
	b.publishJSON(b.topic("event"), false, map[string]any{
		"event":   "abandoned",
		"family":  w.Family.String(),
		"command": poolbus.FormatHex(w.Command),
		"retries": w.Retries,
	})
}

// subscription adapts a bridge handler to a paho callback
func (b *bridge) subscription(handle func(topic string, payload []byte) error) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		b.log.WithField("topic", msg.Topic()).Debugf("received %q", msg.Payload())
		if err := handle(msg.Topic(), msg.Payload()); err != nil {
			b.log.WithError(err).WithField("topic", msg.Topic()).Warn("request rejected")
		}
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	log := newLogger(nil)
	cm, err := openSession(log)
	if err != nil {
		return err
	}
	defer cm.Close()

	mc := cfg.MQTT
	qos := byte(mc.QoS)
	b := &bridge{
		link:   cm.link,
		log:    log,
		prefix: mc.Prefix,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mc.Broker)
	if mc.Username != "" {
		opts.SetUsername(mc.Username)
		opts.SetPassword(mc.Password)
	}
	opts.SetClientID(mc.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetWill(b.topic("status"), "offline", qos, true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.WithField("broker", mc.Broker).Info("connected to MQTT broker")
		c.Subscribe(b.topic("pump", "+", "set"), qos, b.subscription(b.handlePumpSet))
		c.Subscribe(b.topic("chlorinator", "set"), qos, b.subscription(func(_ string, p []byte) error {
			return b.handleChlorinatorSet(p)
		}))
		c.Subscribe(b.topic("command"), qos, b.subscription(func(_ string, p []byte) error {
			return b.handleCommand(p)
		}))
		c.Publish(b.topic("status"), qos, true, "online")
		b.publishAll()
	})

	client := mqtt.NewClient(opts)
	b.publish = func(topic string, retained bool, payload []byte) {
		if !client.IsConnected() {
			return
		}
		client.Publish(topic, qos, retained, payload)
	}

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).Warn("could not connect to MQTT, will retry in background")
	}
	defer func() {
		client.Publish(b.topic("status"), qos, true, "offline").Wait()
		client.Disconnect(250)
	}()

	cm.link.OnComplete(b.completionHandler)
	if mc.PublishFrames {
		cm.link.OnFrame(b.frameHandler)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, connInfo := cm.getConn()
	log.WithField("connection", connInfo).Info("bridge started")
	cm.start(ctx)
	cm.applyStartupLevels()

	interval := mc.PublishInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("bridge stopping")
			return nil
		case <-ticker.C:
			b.publishAll()
		}
	}
}
