package echobroker

import (
	"github.com/nfrund/brokerlink/internal/topics"
	"github.com/nfrund/brokerlink/internal/transport"
)

// Respond computes the envelope the broker sends back for env.
//
// Topics with a catalog response are answered on that response with
// {"STATUS": "ok"}; subscription replies also carry the TOPICS they acted on.
// Unknown broker requests get request + "_response". Anything else comes
// back unchanged.
func (b *Broker) Respond(env transport.Envelope) transport.Envelope {
	if def, ok := b.catalog.Lookup(env.Topics); ok {
		if resp, ok := def.Response(); ok {
			return transport.Envelope{Topics: resp, Contents: responseContents(def, env.Contents)}
		}
	}

	if request, ok := brokerRequest(env.Topics); ok {
		return transport.Envelope{
			Topics: topics.Mapping(map[string]topics.Descriptor{
				"type":     topics.String("broker"),
				"response": topics.String(request + "_response"),
			}),
			Contents: map[string]any{"STATUS": "ok"},
		}
	}
	return env
}

func responseContents(def *topics.Definition, contents any) map[string]any {
	out := map[string]any{"STATUS": "ok"}
	if name := def.Name(); name != topics.Subscribe.Name() && name != topics.Unsubscribe.Name() {
		return out
	}
	if m, ok := contents.(map[string]any); ok {
		if t, ok := m["TOPICS"]; ok {
			out["TOPICS"] = t
		}
	}
	return out
}

func brokerRequest(d topics.Descriptor) (string, bool) {
	if !d.IsMapping() {
		return "", false
	}
	typ, ok := d.Field("type")
	if !ok || typ.Scalar() != "broker" {
		return "", false
	}
	req, ok := d.Field("request")
	if !ok {
		return "", false
	}
	name, ok := req.Scalar().(string)
	return name, ok && name != ""
}
