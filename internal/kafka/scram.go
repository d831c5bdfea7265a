package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*XDGSCRAMClient)(nil)

// scramHashes maps sarama's SASL mechanism names to xdg-go hash generators.
var scramHashes = map[string]scram.HashGeneratorFcn{
	sarama.SASLTypeSCRAMSHA256: scram.SHA256,
	sarama.SASLTypeSCRAMSHA512: scram.SHA512,
}

// XDGSCRAMClient adapts an xdg-go/scram conversation to sarama.SCRAMClient.
// A value serves one authentication; sarama builds a new one per broker
// connection.
type XDGSCRAMClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

// Begin prepares the conversation for userName. It fails when SASLprep
// cannot normalise the credentials.
func (x *XDGSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := x.hash.NewClient(userName, password, authzID)
	if err != nil {
		return fmt.Errorf("scram: %w", err)
	}
	x.conv = client.NewConversation()
	return nil
}

// Step answers one server challenge.
func (x *XDGSCRAMClient) Step(challenge string) (string, error) {
	return x.conv.Step(challenge)
}

// Done reports whether the server's final message was verified.
func (x *XDGSCRAMClient) Done() bool {
	return x.conv.Done()
}

// scramClientGenerator returns the sarama client factory for a SCRAM mechanism.
func scramClientGenerator(mechanism string) (func() sarama.SCRAMClient, error) {
	hash, ok := scramHashes[mechanism]
	if !ok {
		return nil, fmt.Errorf("unsupported SCRAM mechanism: %q", mechanism)
	}
	return func() sarama.SCRAMClient {
		return &XDGSCRAMClient{hash: hash}
	}, nil
}
