package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/internal/simulate"
	"github.com/signalsfoundry/tagtrack/kb"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/timectrl"
)

type options struct {
	metadata    string
	cage        string
	tagID       uint32
	band        int
	protocol    string
	broker      string
	clientID    string
	topic       string
	qos         byte
	dryRun      bool
	duration    time.Duration
	tick        time.Duration
	accelerated bool
	start       int64
	gpsEvery    int
	radius      float64
	period      time.Duration
	swing       float64
}

func main() {
	var o options
	pflag.StringVarP(&o.metadata, "metadata", "m", "metadata.yaml", "metadata file describing stations, cages and tags")
	pflag.StringVar(&o.cage, "cage", "", "cage to simulate (default: the first cage)")
	pflag.Uint32Var(&o.tagID, "tag", 0, "depth tag id (default: the first depth tag of the cage)")
	pflag.IntVar(&o.band, "band", 0, "depth tag band in kHz")
	pflag.StringVar(&o.protocol, "protocol", "S256", "tag protocol")
	pflag.StringVar(&o.broker, "broker", "tcp://localhost:1883", "MQTT broker")
	pflag.StringVar(&o.clientID, "client-id", "tagtrack-sim", "MQTT client id")
	pflag.StringVar(&o.topic, "topic", "tbr/{station}/raw", "publish topic; {station} is replaced by the station id")
	pflag.Uint8Var(&o.qos, "qos", 1, "publish QoS")
	pflag.BoolVar(&o.dryRun, "dry-run", false, "print payloads to stdout instead of publishing")
	pflag.DurationVar(&o.duration, "duration", 5*time.Minute, "simulated duration (0 runs until interrupted)")
	pflag.DurationVar(&o.tick, "tick", 10*time.Second, "interval between tag transmissions")
	pflag.BoolVar(&o.accelerated, "accelerated", false, "run in accelerated mode (vs real-time)")
	pflag.Int64Var(&o.start, "start", 0, "simulation start as epoch seconds (default: now)")
	pflag.IntVar(&o.gpsEvery, "gps-every", 6, "include a station GPS slice every n transmissions")
	pflag.Float64Var(&o.radius, "radius", 0, "orbit radius in metres (default: half the cage radius)")
	pflag.DurationVar(&o.period, "period", 3*time.Minute, "time for one lap of the orbit")
	pflag.Float64Var(&o.swing, "swing", 2, "depth swing around the cage depth in metres")
	pflag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log logging.Logger, stdout io.Writer) error {
	meta, err := kb.LoadMetadataFile(o.metadata)
	if err != nil {
		return err
	}
	sc, err := newScenario(meta, o)
	if err != nil {
		return err
	}

	var pub publisher = writerPublisher{w: stdout}
	if !o.dryRun {
		mp, err := dialMQTT(o)
		if err != nil {
			return err
		}
		defer mp.client.Disconnect(250)
		pub = mp
	}

	mode := timectrl.RealTime
	if o.accelerated {
		mode = timectrl.Accelerated
	}
	start := time.Now().UTC().Truncate(time.Second)
	if o.start != 0 {
		start = time.Unix(o.start, 0).UTC()
	}
	tc := timectrl.NewTimeController(start, o.tick, mode)
	tc.AddListener(func(simTime time.Time) {
		if err := sc.transmit(simTime, pub); err != nil {
			log.Warn(ctx, "transmission failed", logging.Err(err))
		}
	})

	log.Info(ctx, "starting simulation",
		logging.String("cage", sc.cage.Name),
		logging.Int64("tag_id", int64(sc.tag.ID)),
		logging.Duration("duration", o.duration),
		logging.Duration("tick", o.tick),
		logging.String("mode", mode.String()))
	<-tc.Start(ctx, o.duration)
	log.Info(ctx, "simulation complete", logging.Int("transmissions", sc.sent))
	return nil
}

type scenario struct {
	cage     model.CageMeta
	tag      model.TagMeta
	emitter  *simulate.Emitter
	orbit    simulate.Orbit
	start    time.Time
	topic    string
	gpsEvery int
	sent     int
}

func newScenario(meta *kb.Metadata, o options) (*scenario, error) {
	cage, err := pickCage(meta, o.cage)
	if err != nil {
		return nil, err
	}
	tag, err := pickTag(meta, cage.Name, o.tagID, o.band)
	if err != nil {
		return nil, err
	}
	protocol, err := model.ParseProtocol(o.protocol)
	if err != nil {
		return nil, err
	}

	triple := cage.Triples[0]
	var stations [3]simulate.Station
	for i, id := range triple {
		st, ok := meta.Station(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", kb.ErrUnknownStation, id)
		}
		stations[i] = simulate.Station{ID: id, Position: st.Position()}
	}
	em, err := simulate.NewEmitter(stations, cage.Depth, simulate.Tag{
		ID: tag.ID, Band: tag.Band, Protocol: protocol, Calibration: tag.Calibration,
	})
	if err != nil {
		return nil, err
	}

	circle := model.Circle{}
	if cage.Geometry != nil {
		circle = cage.Geometry.Circle
	} else if circle, err = em.Frame().StationCircle(); err != nil {
		return nil, err
	}
	radius := o.radius
	if radius <= 0 {
		radius = circle.Radius / 2
	}

	gpsEvery := o.gpsEvery
	if gpsEvery <= 0 {
		gpsEvery = 1
	}
	return &scenario{
		cage:    cage,
		tag:     tag,
		emitter: em,
		orbit: simulate.Orbit{
			Center:     r2.Vec{X: circle.CenterX, Y: circle.CenterY},
			Radius:     radius,
			Period:     o.period,
			Depth:      cage.Depth + 2*o.swing,
			DepthSwing: o.swing,
		},
		topic:    o.topic,
		gpsEvery: gpsEvery,
	}, nil
}

func pickCage(meta *kb.Metadata, name string) (model.CageMeta, error) {
	if name != "" {
		c, ok := meta.Cage(name)
		if !ok {
			return model.CageMeta{}, fmt.Errorf("%w: %q", kb.ErrUnknownCage, name)
		}
		if len(c.Triples) == 0 {
			return model.CageMeta{}, fmt.Errorf("cage %q has no station triple", name)
		}
		return c, nil
	}
	for _, c := range meta.Cages() {
		if len(c.Triples) > 0 {
			return c, nil
		}
	}
	return model.CageMeta{}, fmt.Errorf("no cage with a station triple in metadata")
}

func pickTag(meta *kb.Metadata, cage string, id uint32, band int) (model.TagMeta, error) {
	for _, t := range meta.DepthTags() {
		if t.Cage != cage {
			continue
		}
		if id == 0 || (t.ID == id && (band == 0 || t.Band == band)) {
			return t, nil
		}
	}
	return model.TagMeta{}, fmt.Errorf("no depth tag %d in cage %q", id, cage)
}

// transmit publishes the frames of one transmission at simTime.
func (s *scenario) transmit(simTime time.Time, pub publisher) error {
	if s.start.IsZero() {
		s.start = simTime
	}
	p, depth := s.orbit.At(simTime.Sub(s.start))
	frames, err := s.emitter.Frames(simTime, p, depth, s.sent%s.gpsEvery == 0)
	if err != nil {
		return err
	}
	for i, st := range s.emitter.Stations() {
		payload, err := ingest.EncodeEnvelope(frames[i], float64(s.emitter.SNR))
		if err != nil {
			return err
		}
		topic := strings.ReplaceAll(s.topic, "{station}", strconv.Itoa(int(st.ID)))
		if err := pub.Publish(topic, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	s.sent++
	return nil
}

type publisher interface {
	Publish(topic string, payload []byte) error
}

type writerPublisher struct {
	w io.Writer
}

func (p writerPublisher) Publish(topic string, payload []byte) error {
	_, err := fmt.Fprintf(p.w, "%s %s\n", topic, payload)
	return err
}

type mqttPublisher struct {
	client mqtt.Client
	qos    byte
}

func dialMQTT(o options) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(o.broker).
		SetClientID(o.clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", o.broker, token.Error())
	}
	return &mqttPublisher{client: client, qos: o.qos}, nil
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	token.Wait()
	return token.Error()
}

