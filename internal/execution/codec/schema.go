package codec

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/touchline-analytics/touchline-host/util"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed envelope.json
var envelopeSchemaJSON []byte

var envelopeSchema = util.Must(
	gojsonschema.NewSchema(gojsonschema.NewBytesLoader(envelopeSchemaJSON)),
)

// validate checks that line is a JSON object matching exactly one of the
// request, response or event shapes.
func validate(line []byte) error {
	result, err := envelopeSchema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}

	return errors.New("invalid envelope: " + strings.Join(msgs, "; "))
}
