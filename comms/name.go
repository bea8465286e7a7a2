package comms

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	// Sep separates the components of a topic or service name.
	Sep = "/"
	// GlobalNS is the root namespace.
	GlobalNS = "/"
)

var validName = regexp.MustCompile(`^/?([a-zA-Z]\w*/)*[a-zA-Z]\w*/?$`)

func isValidName(name string) bool {
	if name == GlobalNS {
		return true
	}
	return validName.MatchString(name)
}

func isGlobalName(name string) bool {
	return strings.HasPrefix(name, GlobalNS)
}

// Remove sequential separators and a trailing one.
func canonicalizeName(name string) string {
	if name == GlobalNS || name == "" {
		return name
	}
	var components []string
	for _, word := range strings.Split(name, Sep) {
		if len(word) > 0 {
			components = append(components, word)
		}
	}
	if isGlobalName(name) {
		return GlobalNS + strings.Join(components, Sep)
	}
	return strings.Join(components, Sep)
}

// ResolveName canonicalizes name and, when global is set, prefixes relative
// names with the root namespace: "r1//laser1_scan/" resolves to
// "/r1/laser1_scan".
func ResolveName(name string, global bool) (string, error) {
	canon := canonicalizeName(name)
	if canon == "" || canon == GlobalNS || !isValidName(canon) {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if global && !isGlobalName(canon) {
		canon = GlobalNS + canon
	}
	return canon, nil
}

// SplitTopic returns the entity and sensor parts of a "/<entity>/<sensor>"
// topic name.
func SplitTopic(topic string) (entity string, sensor string, err error) {
	resolved, err := ResolveName(topic, true)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.TrimPrefix(resolved, GlobalNS), Sep)
	if len(parts) != 2 {
		return "", "", errors.Wrapf(ErrInvalidName, "%q is not /<entity>/<sensor>", topic)
	}
	return parts[0], parts[1], nil
}

// TopicName builds "/<entity>/<sensor>".
func TopicName(entity, sensor string) string {
	return GlobalNS + entity + Sep + sensor
}
