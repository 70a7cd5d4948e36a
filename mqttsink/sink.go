package mqttsink

import (
	"github.com/sirupsen/logrus"
	"hemtjan.st/han/meter"
	"lib.hemtjan.st/client"
	"lib.hemtjan.st/device"
	"lib.hemtjan.st/feature"
	"sort"
)

// Device is the part of a hemtjanst device the sink needs.
type Device interface {
	Update(feature, value string) error
}

// Creator announces a device with the given info.
type Creator func(info *device.Info) (Device, error)

type hemtjanstDevice struct {
	d client.Device
}

func (h hemtjanstDevice) Update(name, value string) error {
	return h.d.Feature(name).Update(value)
}

// Wrap adapts a hemtjanst client device.
func Wrap(d client.Device) Device {
	return hemtjanstDevice{d}
}

type Config struct {
	Topic string
	Name  string
	// Manufacturer is guessed from the list version when empty
	Manufacturer string
	// SerialNumber lets the device be announced before the meter ID is seen
	SerialNumber string
}

// Sink publishes fields as hemtjanst features. Values are collected per
// frame and sent on Flush. The device is announced once the meter ID is
// known, since it is used as serial number, and announced again when a new
// feature shows up or the identity changes.
type Sink struct {
	create       Creator
	info         device.Info
	autoVendor   bool
	log          logrus.FieldLogger
	dev          Device
	stale        bool
	featureNames map[string]bool
	pending      map[string]string
}

func New(create Creator, cfg Config, log logrus.FieldLogger) *Sink {
	return &Sink{
		create: create,
		info: device.Info{
			Topic:        cfg.Topic,
			Name:         cfg.Name,
			Manufacturer: cfg.Manufacturer,
			Type:         "energyMeter",
			SerialNumber: cfg.SerialNumber,
		},
		autoVendor:   cfg.Manufacturer == "",
		log:          log,
		featureNames: map[string]bool{},
		pending:      map[string]string{},
	}
}

func (s *Sink) Publish(f meter.Field) {
	switch f.Slot {
	case meter.SlotMeterID:
		s.setIdentity(&s.info.SerialNumber, f.Text)
		return
	case meter.SlotMeterType:
		s.setIdentity(&s.info.Model, f.Text)
		return
	case meter.SlotListVersion:
		if s.autoVendor {
			s.setIdentity(&s.info.Manufacturer, manufacturer(f.Text))
		}
		return
	}

	name, value, ok := featureValue(f)
	if !ok {
		return
	}
	if !s.featureNames[name] {
		s.featureNames[name] = true
		s.stale = true
	}
	s.pending[name] = value
}

// Flush sends the values collected since the last call. Until the meter
// ID is known only the latest value of each feature is kept.
func (s *Sink) Flush() {
	if s.info.SerialNumber == "" {
		return
	}
	if s.dev == nil || s.stale {
		if err := s.announce(); err != nil {
			s.log.WithError(err).Error("Error creating device")
			return
		}
	}

	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.dev.Update(name, s.pending[name]); err != nil {
			s.log.WithError(err).WithField("feature", name).Warn("Error updating feature")
		}
	}
	s.pending = map[string]string{}
}

func (s *Sink) setIdentity(dst *string, v string) {
	if v != "" && *dst != v {
		*dst = v
		s.stale = true
	}
}

func (s *Sink) announce() error {
	info := s.info
	info.Features = map[string]*feature.Info{}
	for name := range s.featureNames {
		info.Features[name] = &feature.Info{}
	}
	d, err := s.create(&info)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"topic":    info.Topic,
		"serial":   info.SerialNumber,
		"model":    info.Model,
		"features": len(info.Features),
	}).Info("Announced device")
	s.dev = d
	s.stale = false
	return nil
}
