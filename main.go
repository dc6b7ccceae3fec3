// Command voxengine runs the conversational session engine as a
// standalone demo host process: it wires a Session to synthetic audio
// devices, prints every observer event to the log, and drives Advance()
// off stdin so the state machine can be walked interactively.
//
// Follows a standard flag+YAML config load order: parse flags, load
// config, init logging, then start the domain layer.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aivox/voxengine/config"
	"github.com/aivox/voxengine/log"
	"github.com/aivox/voxengine/mcp"
	"github.com/aivox/voxengine/model"
	"github.com/aivox/voxengine/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(&cfg.Log); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		os.Exit(1)
	}

	log.Infof("starting voxengine")
	log.Infof("loaded config: %s", *configPath)

	identity := session.NewDeviceIdentity(cfg.Device.InterfaceName)
	log.Infof("device id: %s, client id: %s", identity.DeviceID, identity.ClientID)

	sess := session.NewSession(identity)
	sess.SetObserver(&loggingObserver{})

	if cfg.Engine.OTAURL != "" {
		sess.SetOTAURL(cfg.Engine.OTAURL)
	}
	if cfg.Engine.WebSocketURL != "" || len(cfg.Engine.WebSocketExtra) > 0 {
		sess.ConfigureWebSocket(cfg.Engine.WebSocketURL, cfg.Engine.WebSocketExtra)
	}

	sess.AddMCPTool("get_battery_level", mcp.Tool{
		Description: "Reports the device's current battery level as a percentage.",
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sess.Start(silentInputDevice{}, discardOutputDevice{})

	go func() {
		<-sigCh
		log.Infof("shutting down")
		os.Exit(0)
	}()

	log.Infof("press enter to advance the session; ctrl-c to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		sess.Advance()
	}
}

// loggingObserver renders every engine event as a log line, standing in
// for the demo UI a real device firmware would drive off these events.
type loggingObserver struct{}

func (loggingObserver) PushEvent(e model.Event) {
	switch ev := e.(type) {
	case model.StateChangedEvent:
		log.Infof("state: %s -> %s", ev.Old, ev.New)
	case model.ActivationEvent:
		log.Infof("activation required: %s (%s)", ev.Code, ev.Message)
	case model.ChatMessageEvent:
		log.Infof("%s: %s", ev.Role, ev.Content)
	case model.EmotionEvent:
		log.Infof("emotion: %s", ev.Label)
	case model.McpToolCallEvent:
		log.Infof("tool call: %s(%v) id=%d", ev.Call.Name, ev.Call.Arguments, ev.Call.ID)
	case model.IoTStateUpdatedEvent:
		log.Infof("iot state updated: %+v", ev.State)
	case model.TextReceivedEvent:
		log.Debugf("recv: %s", ev.Content)
	case model.TextTranslatedEvent:
		log.Debugf("translated: %s", ev.Content)
	}
}

// silentInputDevice feeds silence at real-time pace, standing in for a
// microphone on hosts with no audio hardware attached.
type silentInputDevice struct{}

func (silentInputDevice) ReadPCM(buf []int16) (int, error) {
	time.Sleep(60 * time.Millisecond)
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

// discardOutputDevice drops playback audio, standing in for a speaker on
// hosts with no audio hardware attached.
type discardOutputDevice struct{}

func (discardOutputDevice) WritePCM(pcm []int16) error { return nil }
