package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
	"github.com/mohsenil85/imbolc-workspace-sub002/cmd"
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
	"github.com/mohsenil85/imbolc-workspace-sub002/version"
)

var (
	server         = flag.String("server", "127.0.0.1:57110", "address of the scsynth server")
	offline        = flag.Bool("offline", false, "do not connect to a server; all commands are dropped")
	queue          = flag.Int("queue", 1024, "number of OSC packets buffered for the sender")
	tick           = flag.Duration("tick", 10*time.Millisecond, "interval of the voice cleanup pass")
	maxVoices      = flag.Int("max-voices", 64, "voices per instrument before a new note steals one")
	decayTail      = flag.Duration("decay-tail", 1500*time.Millisecond, "time after a release before the voice is freed")
	midiInput      = flag.String("midi-input", "", "connect MIDI input to matching device name prefix")
	midiChannels   = flag.String("midi-channels", "", "MIDI channel to instrument map, e.g. 0=1,1=3")
	listMIDI       = flag.Bool("list-midi", false, "list the MIDI inputs and exit")
	record         = flag.String("record", "", "record the main output to a wav `file`")
	recordBuffer   = flag.Int("record-buffer", 1023, "buffer id used for recording")
	statusTemplate = flag.String("status", "", "status line template (text/template with sprig functions)")
	statusInterval = flag.Duration("status-interval", 0, "interval of the status line; 0 disables it")
	versionFlag    = flag.Bool("v", false, "Print version.")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if *listMIDI {
		for _, name := range cmd.MIDIInputs() {
			fmt.Println(name)
		}
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	logger := log.New(os.Stderr, "imbolc: ", log.LstdFlags)
	session, err := readSession(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	channels, err := parseChannels(*midiChannels)
	if err != nil {
		log.Fatal("invalid -midi-channels: ", err)
	}
	formatter, err := tracker.NewStatusFormatter(*statusTemplate)
	if err != nil {
		log.Fatal(err)
	}

	backend := imbolc.NewHandle(nil)
	if !*offline {
		conn, err := cmd.Connect(*server, *queue, logger)
		if err != nil {
			log.Fatalf("could not connect to scsynth at %v: %v", *server, err)
		}
		defer conn.Close()
		backend.Set(conn.Backend)
	}

	cfg := tracker.DefaultAllocatorConfig()
	cfg.MaxVoicesPerInstrument = *maxVoices
	cfg.DecayTail = *decayTail
	broker := tracker.NewBroker()
	player := tracker.NewPlayer(broker, backend, session, tracker.PlayerConfig{Allocator: cfg, Logger: logger})
	player.LoadSamples()
	player.RebuildRouting()
	if *record != "" {
		player.StartRecording(int32(*recordBuffer), *record)
	}

	if isFlagPassed("midi-input") {
		closeMIDI, err := cmd.OpenMIDI(broker, *midiInput, channels)
		if err != nil {
			logger.Printf("failed to open MIDI input '%s': %v", *midiInput, err)
		}
		defer closeMIDI()
	}

	go player.Run(*tick)
	if *statusInterval > 0 {
		go printStatus(broker, formatter, *statusInterval)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	tracker.TrySend(broker.ClosePlayer, struct{}{})
	if _, ok := tracker.TimeoutReceive(broker.FinishedPlayer, 3*time.Second); !ok {
		logger.Printf("player did not finish in time")
	}
}

func readSession(path string) (*imbolc.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open session %v: %w", path, err)
	}
	defer f.Close()
	s, err := imbolc.ReadSession(f)
	if err != nil {
		return nil, fmt.Errorf("could not read session %v: %w", path, err)
	}
	return s, nil
}

// printStatus asks the player for a status snapshot every interval. The
// player answers on the channel in the message, so the allocator is only
// read from the player goroutine.
func printStatus(broker *tracker.Broker, f *tracker.StatusFormatter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	reply := make(chan tracker.Status, 1)
	for range ticker.C {
		if !tracker.TrySend(broker.ToPlayer, any(tracker.StatusMsg{Reply: reply})) {
			continue
		}
		s, ok := tracker.TimeoutReceive(reply, interval)
		if !ok {
			continue
		}
		line, err := f.Format(s)
		if err != nil {
			log.Printf("status: %v", err)
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s", line)
	}
}

func parseChannels(s string) (map[uint8]int, error) {
	ret := map[uint8]int{}
	if s == "" {
		return ret, nil
	}
	for _, pair := range strings.Split(s, ",") {
		ch, instr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected channel=instrument, got %q", pair)
		}
		c, err := strconv.ParseUint(strings.TrimSpace(ch), 10, 4)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch, err)
		}
		i, err := strconv.Atoi(strings.TrimSpace(instr))
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", instr, err)
		}
		ret[uint8(c)] = i
	}
	return ret, nil
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Imbolc engine: plays a session on a SuperCollider server.\nUsage: %s [flags] session.yml\n", os.Args[0])
	flag.PrintDefaults()
}
