package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes reconstruction results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// ReconstructionSummary is the payload of the {prefix}/reconstruction topic
type ReconstructionSummary struct {
	RunID              string `json:"runId"`
	Anchor             string `json:"anchor"`
	ScannerCount       int    `json:"scannerCount"`
	OverlapCount       int    `json:"overlapCount"`
	BeaconCount        int    `json:"beaconCount"`
	MaxScannerDistance int    `json:"maxScannerDistance"`
	Timestamp          int64  `json:"timestamp"`
}

// ScannerPosePayload is the payload of the {prefix}/scanners/{id} topics
type ScannerPosePayload struct {
	ScannerID string    `json:"scannerId"`
	RunID     string    `json:"runId"`
	Position  Point3    `json:"position"`
	Rotation  int       `json:"rotation"`
	Matrix    [3][3]int `json:"matrix"`
	Timestamp int64     `json:"timestamp"`
}

// NewPublisher creates a result publisher. The prefix comes from
// MQTT_PUBLISH_PREFIX, then the argument, then "beaconmesh".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "beaconmesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers get the latest result
	}
}

// PublishReconstruction publishes the summary and every scanner pose
func (p *Publisher) PublishReconstruction(rec *Reconstruction) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if rec == nil {
		return fmt.Errorf("no reconstruction to publish")
	}

	now := time.Now().Unix()

	summary := ReconstructionSummary{
		RunID:              rec.RunID,
		Anchor:             rec.Anchor,
		ScannerCount:       rec.Metrics.ScannerCount,
		OverlapCount:       rec.Metrics.OverlapCount,
		BeaconCount:        rec.Metrics.BeaconCount,
		MaxScannerDistance: rec.Metrics.MaxScannerDistance,
		Timestamp:          now,
	}
	if err := p.publishJSON(fmt.Sprintf("%s/reconstruction", p.publishPrefix), summary); err != nil {
		return err
	}

	for _, sp := range rec.Scanners {
		payload := ScannerPosePayload{
			ScannerID: sp.ID,
			RunID:     rec.RunID,
			Position:  sp.Pose.Position,
			Rotation:  int(sp.Pose.Rotation),
			Matrix:    sp.Pose.Rotation.Matrix(),
			Timestamp: now,
		}
		if err := p.publishJSON(fmt.Sprintf("%s/scanners/%s", p.publishPrefix, sp.ID), payload); err != nil {
			return err
		}
	}

	log.Printf("Published reconstruction %s: %d beacons, max scanner distance %d",
		rec.RunID, rec.Metrics.BeaconCount, rec.Metrics.MaxScannerDistance)
	return nil
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
