package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisBus_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)

	producer := NewRedisBus()
	ctx := context.Background()
	if err := producer.Connect(ctx, mr.Addr(), "producer-agent"); err != nil {
		t.Fatalf("producer Connect: %v", err)
	}
	defer producer.Close()
	if err := producer.Producer("assets"); err != nil {
		t.Fatalf("Producer: %v", err)
	}

	consumer := NewRedisBus()
	if err := consumer.Connect(ctx, mr.Addr(), "consumer-agent"); err != nil {
		t.Fatalf("consumer Connect: %v", err)
	}
	defer consumer.Close()
	if err := consumer.Consumer("assets", AnchorLiteral("RACK1")); err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	// miniredis Pub/Sub delivery is asynchronous; give the subscription a
	// moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := producer.Publish(ctx, "RACK2", "irrelevant"); err != nil {
		t.Fatalf("Publish RACK2: %v", err)
	}
	if err := producer.Publish(ctx, "RACK1", "payload"); err != nil {
		t.Fatalf("Publish RACK1: %v", err)
	}

	select {
	case msg := <-consumer.Messages():
		if msg.Subject != "RACK1" {
			t.Errorf("expected only RACK1 delivered, got %q", msg.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestRedisBus_PublishWithoutProducerFails(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBus()
	if err := b.Connect(context.Background(), mr.Addr(), "agent"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer b.Close()
	if err := b.Publish(context.Background(), "x"); err == nil {
		t.Error("expected Publish without a producer stream to fail")
	}
}

func TestRedisBus_ConsumerBeforeConnectFails(t *testing.T) {
	b := NewRedisBus()
	if err := b.Consumer("assets", ".*"); err == nil {
		t.Error("expected Consumer before Connect to fail")
	}
}

func TestRedisBus_AuthSecretAccepted(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	secret := []byte("shared-secret")

	producer := NewRedisBus()
	producer.SetAuthSecret(secret)
	if err := producer.Connect(ctx, mr.Addr(), "producer-agent"); err != nil {
		t.Fatalf("producer Connect: %v", err)
	}
	defer producer.Close()
	if err := producer.Producer("assets"); err != nil {
		t.Fatalf("Producer: %v", err)
	}

	consumer := NewRedisBus()
	consumer.SetAuthSecret(secret)
	if err := consumer.Connect(ctx, mr.Addr(), "consumer-agent"); err != nil {
		t.Fatalf("consumer Connect: %v", err)
	}
	defer consumer.Close()
	if err := consumer.Consumer("assets", AnchorLiteral("RACK1")); err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := producer.Publish(ctx, "RACK1", "payload"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-consumer.Messages():
		if msg.Subject != "RACK1" {
			t.Errorf("expected RACK1 delivered, got %q", msg.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestRedisBus_AuthSecretMismatchDropsMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	producer := NewRedisBus()
	producer.SetAuthSecret([]byte("secret-a"))
	if err := producer.Connect(ctx, mr.Addr(), "producer-agent"); err != nil {
		t.Fatalf("producer Connect: %v", err)
	}
	defer producer.Close()
	if err := producer.Producer("assets"); err != nil {
		t.Fatalf("Producer: %v", err)
	}

	consumer := NewRedisBus()
	consumer.SetAuthSecret([]byte("secret-b"))
	if err := consumer.Connect(ctx, mr.Addr(), "consumer-agent"); err != nil {
		t.Fatalf("consumer Connect: %v", err)
	}
	defer consumer.Close()
	if err := consumer.Consumer("assets", AnchorLiteral("RACK1")); err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := producer.Publish(ctx, "RACK1", "payload"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-consumer.Messages():
		t.Errorf("expected mismatched-secret message to be dropped, got %v", msg)
	case <-time.After(200 * time.Millisecond):
		// expected: nothing delivered
	}
}
