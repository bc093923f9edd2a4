package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
)

// Sink receives every stored entry for downstream consumers.
type Sink interface {
	Export(ctx context.Context, e Entry) error
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Export(ctx context.Context, e Entry) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Export(ctx, e))
	}
	return err
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

// PubSubSink publishes entries as JSON, ordered per source media. The
// publisher must have message ordering enabled.
type PubSubSink struct {
	pub publisher
}

func NewPubSubSink(p *pubsub.Publisher) *PubSubSink {
	return &PubSubSink{pub: &gcpPublisher{Publisher: p}}
}

func (s *PubSubSink) Export(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal training entry: %w", err)
	}
	msg := &pubsub.Message{
		Data:        data,
		OrderingKey: e.SourceMediaID,
		Attributes: map[string]string{
			"event":           "training_entry.upserted",
			"source_media_id": e.SourceMediaID,
		},
	}
	res := s.pub.Publish(ctx, msg)
	if res == nil {
		return errors.New("publish training entry: no result")
	}
	if _, err := res.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		if msg.OrderingKey != "" {
			s.pub.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish training entry: %w", err)
	}
	return nil
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

func (p *gcpPublisher) ResumePublish(orderingKey string) {
	if p != nil && p.Publisher != nil {
		p.Publisher.ResumePublish(orderingKey)
	}
}

type inserter interface {
	Put(ctx context.Context, src any) error
}

// BigQuerySink streams entries into a table. The entry ID plus update time
// is the insert id, so a retried insert of the same version is deduplicated.
type BigQuerySink struct {
	ins inserter
}

func NewBigQuerySink(ins *bigquery.Inserter) *BigQuerySink {
	return &BigQuerySink{ins: ins}
}

func (s *BigQuerySink) Export(ctx context.Context, e Entry) error {
	row := &bigquery.StructSaver{
		Struct:   e,
		InsertID: fmt.Sprintf("%s:%d", e.ID, e.UpdatedAt.UnixNano()),
	}
	if err := s.ins.Put(ctx, row); err != nil {
		return fmt.Errorf("insert training entry row: %w", err)
	}
	return nil
}

// ExportConfig names the Pub/Sub topic and BigQuery table to export to.
// Empty names disable that sink.
type ExportConfig struct {
	ProjectID string
	Topic     string
	Dataset   string
	Table     string
}

// OpenSinks connects the configured sinks. The returned close func releases
// every client that was opened; it is safe to call when no sink is enabled.
func OpenSinks(ctx context.Context, cfg ExportConfig, opts ...option.ClientOption) (Sink, func() error, error) {
	var (
		sinks   MultiSink
		closers []func() error
	)
	closeAll := func() error {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		return err
	}
	projectID := strings.TrimSpace(cfg.ProjectID)

	if topic := strings.TrimSpace(cfg.Topic); topic != "" {
		if projectID == "" {
			return nil, closeAll, errors.New("gcp project id is required for pubsub export")
		}
		client, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, closeAll, fmt.Errorf("creating pubsub client: %w", err)
		}
		pub := client.Publisher(topicResourceName(projectID, topic))
		pub.EnableMessageOrdering = true
		closers = append(closers, func() error {
			pub.Stop()
			return client.Close()
		})
		sinks = append(sinks, NewPubSubSink(pub))
	}

	if dataset := strings.TrimSpace(cfg.Dataset); dataset != "" {
		if projectID == "" {
			return nil, closeAll, errors.New("gcp project id is required for bigquery export")
		}
		client, err := bigquery.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, closeAll, fmt.Errorf("creating bigquery client: %w", err)
		}
		closers = append(closers, client.Close)
		sinks = append(sinks, NewBigQuerySink(client.Dataset(dataset).Table(cfg.Table).Inserter()))
	}

	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}

func topicResourceName(projectID, topic string) string {
	if strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
}
