package boltwood

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Hard decode errors. Anything less severe is annotated on the returned
// Report instead of failing the decode.
var (
	ErrShortFrame        = errors.New("boltwood: report frame too short")
	ErrUnknownReportType = errors.New("boltwood: unknown report type")
	ErrBadEncoding       = errors.New("boltwood: report content is not valid text")
)

// FieldKind declares how a report column is decoded.
type FieldKind int

const (
	IntField FieldKind = iota
	FloatField
	BoolField // the literal "Y" decodes to true, anything else to false
	StringField
)

// Column is one named, typed position in a report's text layout.
type Column struct {
	Name string
	Kind FieldKind
}

// schema is the ordered column layout of one report type. required is the
// minimum field count for the packet to be considered decodable; zero means
// all columns are required.
type reportSchema struct {
	columns  []Column
	required int
}

func (s reportSchema) minFields() int {
	if s.required > 0 {
		return s.required
	}
	return len(s.columns)
}

// Column layouts, one per report type. The order is wire-defined and must
// not change; field names are kept compatible with the historical CSV/JSON
// output.
var schemas = map[ReportType]reportSchema{
	ThermopileCalibReport: {columns: []Column{
		{"eThermopileCal", IntField},
		{"eBestK", FloatField},
		{"eBestD", FloatField},
		{"eBestOffs", FloatField},
	}},
	WetnessCalibReport: {required: 8, columns: []Column{
		{"eWetCal", IntField},
		{"eWetOscFactor", FloatField},
		{"eRawWetAvg", IntField},
		{"eCaseT", FloatField},
		{"eshtAmbientT", FloatField},
		{"enomOsc", IntField},
		{"oscDry", IntField},
		{"minWetAvg", IntField},
		{"dif", IntField},
		{"unknown1", StringField},
	}},
	ThresholdReport: {columns: []Column{
		{"serialNumber", IntField},
		{"version", IntField},
		{"eSendErrs", IntField},
		{"eCloudyThresh", FloatField},
		{"eVeryCloudyThresh", FloatField},
		{"eWindyThresh", FloatField},
		{"eVeryWindyThresh", FloatField},
		{"eRainThresh", IntField},
		{"eWetThresh", IntField},
		{"eDaylightCode", IntField},
		{"eDayThresh", IntField},
		{"eVeryDayThresh", IntField},
		{"unknown1", IntField},
		{"unknown2", IntField},
		{"unknown3", IntField},
		{"unknown4", IntField},
		{"unknown5", IntField},
	}},
	WetnessReport: {columns: []Column{
		{"caseVal", FloatField},
		{"ambT", FloatField},
		{"wAvgW", IntField},
		{"wAvgC", FloatField},
		{"nomos", FloatField},
		{"rawWT", IntField},
		{"wetAvg", IntField},
	}},
	SensorsReport: {columns: []Column{
		{"humidstatTempCode", IntField},
		{"cloudCond", IntField},
		{"windCond", IntField},
		{"rainCond", IntField},
		{"skyCond", IntField},
		{"roofCloseRequested", IntField},
		{"skyMinusAmbientTemperature", FloatField},
		{"ambientTemperature", FloatField},
		{"windSpeed", FloatField},
		{"wetSensor", BoolField},
		{"rainSensor", BoolField},
		{"relativeHumidityPercentage", IntField},
		{"dewPointTemperature", FloatField},
		{"caseTemperature", FloatField},
		{"rainHeaterPercentage", IntField},
		{"blackBodyTemperature", FloatField},
		{"rainHeaterState", IntField},
		{"powerVoltage", FloatField},
		{"anemometerTemeratureDiff", FloatField},
		{"wetnessDrop", IntField},
		{"wetnessAvg", IntField},
		{"wetnessDry", IntField},
		{"rainHeaterPWM", IntField},
		{"anemometerHeaterPWM", IntField},
		{"thermopileADC", IntField},
		{"thermistorADC", IntField},
		{"powerADC", IntField},
		{"blockADC", IntField},
		{"anemometerThermistorADC", IntField},
		{"davisVaneADC", IntField},
		{"dkMPH", FloatField},
		{"extAnemometerDirection", IntField},
		{"rawWetnessOsc", IntField},
		{"dayCond", IntField},
		{"daylightADC", IntField},
	}},
}

// Report is one decoded record from the sensor head.
//
// Data holds only the fields that parsed successfully. Errors and Comments
// carry per-field (or per-packet, under the "packet" key) annotations from
// decoding and fault classification. A report is populated once during
// ParseReport and treated as read-only afterwards.
type Report struct {
	Type ReportType
	Time time.Time

	Data     map[string]any
	Errors   map[string]string
	Comments map[string]string
}

func newReport(typ ReportType) *Report {
	return &Report{
		Type:     typ,
		Time:     time.Now().UTC(),
		Data:     make(map[string]any),
		Errors:   make(map[string]string),
		Comments: make(map[string]string),
	}
}

// Clean reports whether the decode produced no errors and no comments.
func (r *Report) Clean() bool {
	return len(r.Errors) == 0 && len(r.Comments) == 0
}

// Float returns a numeric field as float64, converting int columns.
func (r *Report) Float(name string) (float64, bool) {
	switch v := r.Data[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns an integer field.
func (r *Report) Int(name string) (int, bool) {
	v, ok := r.Data[name].(int)
	return v, ok
}

// Bool returns a boolean field; absent fields read as false.
func (r *Report) Bool(name string) bool {
	v, ok := r.Data[name].(bool)
	return ok && v
}

// FormatValue renders a field for display, "N/A" when absent.
func (r *Report) FormatValue(name string) string {
	v, ok := r.Data[name]
	if !ok {
		return "N/A"
	}
	if f, isFloat := v.(float64); isFloat {
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	return fmt.Sprint(v)
}

// RainStatus returns the decoded rain condition label.
func (r *Report) RainStatus() string { return r.codeLabel("rainCond", rainCodes) }

// SkyStatus returns the decoded sky condition label.
func (r *Report) SkyStatus() string { return r.codeLabel("skyCond", skyCodes) }

// CloudStatus returns the decoded cloud condition label.
func (r *Report) CloudStatus() string { return r.codeLabel("cloudCond", cloudCodes) }

// WindStatus returns the decoded wind condition label.
func (r *Report) WindStatus() string { return r.codeLabel("windCond", windCodes) }

// DayStatus returns the decoded daylight condition label.
func (r *Report) DayStatus() string { return r.codeLabel("dayCond", daylightCodes) }

func (r *Report) codeLabel(name string, table map[int]string) string {
	code, ok := r.Int(name)
	if !ok {
		return "N/A"
	}
	label, known := table[code]
	if !known {
		return "N/A"
	}
	return label
}

// ParseReport decodes a complete 'M' frame into a Report.
//
// The frame layout is "\x02M<type> <fields...><4 trailer bytes>\n"; the
// trailer bytes are not data and are stripped together with the framing.
// Unknown type tags and non-text content fail hard. A packet with too few
// fields, or with a field that does not convert, still yields a Report: the
// failure is recorded under Errors["packet"] and field population stops at
// that point.
func ParseReport(raw []byte) (*Report, error) {
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}

	typ := ReportType(raw[2])
	schema, ok := schemas[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, raw[2])
	}

	// The last 4 bytes before the terminator are always rubbish.
	var content string
	if len(raw) > 9 {
		body := raw[4 : len(raw)-5]
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w (type %s)", ErrBadEncoding, typ)
		}
		content = string(body)
	}

	rep := newReport(typ)
	rep.parseContent(content, schema)

	if typ == SensorsReport && !rep.hasPacketError() {
		rep.classifySensors()
	}

	return rep, nil
}

func (r *Report) hasPacketError() bool {
	_, ok := r.Errors["packet"]
	return ok
}

// parseContent splits the frame text into fields and decodes each one per
// the schema's column kind.
func (r *Report) parseContent(content string, schema reportSchema) {
	fields := strings.Fields(content)

	if min := schema.minFields(); len(fields) < min {
		r.Errors["packet"] = fmt.Sprintf("report too short (%d < %d fields)", len(fields), min)
		return
	}

	for i, col := range schema.columns {
		if i >= len(fields) {
			break
		}

		switch col.Kind {
		case BoolField:
			r.Data[col.Name] = fields[i] == "Y"
		case IntField:
			v, err := strconv.Atoi(fields[i])
			if err != nil {
				r.Errors["packet"] = fmt.Sprintf("field %s: bad integer %q", col.Name, fields[i])
				return
			}
			r.Data[col.Name] = v
		case FloatField:
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				r.Errors["packet"] = fmt.Sprintf("field %s: bad float %q", col.Name, fields[i])
				return
			}
			r.Data[col.Name] = v
		case StringField:
			r.Data[col.Name] = fields[i]
		}
	}
}

// classifySensors applies the fault and saturation interpretation the head
// bakes into a combined sensors report: status codes become error entries,
// sentinel temperature values become comments and are removed from Data,
// and the derived raining/wet booleans are set.
func (r *Report) classifySensors() {
	if code, ok := r.Int("humidstatTempCode"); ok && code != 0 {
		label, known := htCodes[code]
		if !known {
			label = fmt.Sprintf("unknown humidistat code %d", code)
		}
		r.Errors["humidistat"] = label
	}

	raining := false
	if code, ok := r.Int("rainCond"); ok {
		raining = code == rainCodeRaining
	}
	wet := raining

	// Sentinel checks run sequentially and are deliberately non-exclusive:
	// the saturated-cold band re-clears the wet flag set by the wet-sensor
	// band one line above. This matches the head's firmware behavior.
	if dt, ok := r.Float("skyMinusAmbientTemperature"); ok {
		if dt > skySaturatedHotLimit {
			r.Errors["skyMinusAmbientTemperature"] = skySaturatedHotLabel
			delete(r.Data, "skyMinusAmbientTemperature")
		}
		if dt < skyWetSensorLimit {
			r.Comments["skyMinusAmbientTemperature"] = skyWetSensorLabel
			delete(r.Data, "skyMinusAmbientTemperature")
			wet = true
		}
		if dt < skySaturatedColdLimit {
			r.Comments["skyMinusAmbientTemperature"] = skySaturatedColdLabel
			delete(r.Data, "skyMinusAmbientTemperature")
			wet = false
		}
	}

	if dt, ok := r.Float("anemometerTemeratureDiff"); ok {
		for _, band := range anemometerBands {
			if dt < band.limit {
				r.Comments["anemometerTemeratureDiff"] = band.label
			}
		}
	}

	if code, ok := r.Int("rainHeaterState"); ok {
		label, known := heaterCodes[code]
		switch {
		case !known:
			r.Errors["heater"] = fmt.Sprintf("unknown heater code %d", code)
		case !heaterNominal(code):
			r.Errors["heater"] = label
		}
	}

	r.Data["raining"] = raining
	r.Data["wet"] = wet
}
