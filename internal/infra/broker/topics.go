package broker

import (
	"fmt"
	"strings"

	domainsaga "hotelsaga/internal/domain/saga"
)

const (
	commandsSuffix = ".commands.v1"
	repliesSuffix  = ".replies.v1"
	deadLetter     = "saga.deadletter.v1"
)

// CommandTopic names the topic a service consumes commands from.
func CommandTopic(prefix string, svc domainsaga.Service) string {
	return prefix + string(svc) + commandsSuffix
}

// ReplyTopic names the topic the engine consumes replies of src from.
func ReplyTopic(prefix string, src domainsaga.Source) string {
	return prefix + string(src) + repliesSuffix
}

func ReplyTopics(prefix string) []string {
	out := make([]string, 0, len(domainsaga.Sources()))
	for _, src := range domainsaga.Sources() {
		out = append(out, ReplyTopic(prefix, src))
	}
	return out
}

func DeadLetterTopic(prefix string) string {
	return prefix + deadLetter
}

// SourceFromTopic is the inverse of ReplyTopic.
func SourceFromTopic(prefix, topic string) (domainsaga.Source, error) {
	name, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", fmt.Errorf("broker: topic %q outside prefix %q", topic, prefix)
	}
	name, ok = strings.CutSuffix(name, repliesSuffix)
	if !ok {
		return "", fmt.Errorf("broker: %q is not a reply topic", topic)
	}
	return domainsaga.ParseSource(name)
}
