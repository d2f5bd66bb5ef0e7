package boltwood

// Wire framing constants for the Boltwood II serial protocol.
//
// The sensor head speaks a simple half-duplex protocol: the host sends a
// single poll byte, the head answers with framed ASCII messages. Frames are
// wrapped in a start byte and a newline terminator.
const (
	// PollByte is the single reserved byte that asks the head for its next reading.
	PollByte = 0x01
	// FrameStart marks the beginning of a framed message.
	FrameStart = 0x02
	// FrameEnd terminates every frame.
	FrameEnd = '\n'
)

// CommandChar identifies the command byte directly after the frame start.
type CommandChar byte

const (
	CmdPoll    CommandChar = 'P' // head signals it is ready to be polled
	CmdAck     CommandChar = 'A'
	CmdNack    CommandChar = 'N'
	CmdMessage CommandChar = 'M' // a data report follows
)

// String returns a readable name for logging.
func (c CommandChar) String() string {
	switch c {
	case CmdPoll:
		return "poll"
	case CmdAck:
		return "ack"
	case CmdNack:
		return "nack"
	case CmdMessage:
		return "message"
	default:
		return "unknown"
	}
}

func validCommandChar(b byte) bool {
	switch CommandChar(b) {
	case CmdPoll, CmdAck, CmdNack, CmdMessage:
		return true
	default:
		return false
	}
}

// ReportType identifies the message sub-type byte of an 'M' frame.
type ReportType byte

const (
	ThermopileCalibReport ReportType = 'C'
	SensorsReport         ReportType = 'D'
	WetnessCalibReport    ReportType = 'K'
	ThresholdReport       ReportType = 'T'
	WetnessReport         ReportType = 'W'
)

func (t ReportType) String() string {
	switch t {
	case ThermopileCalibReport:
		return "thermopile-calib"
	case SensorsReport:
		return "sensors"
	case WetnessCalibReport:
		return "wetness-calib"
	case ThresholdReport:
		return "threshold"
	case WetnessReport:
		return "wetness"
	default:
		return "unknown"
	}
}

// Humidistat/temperature sensor status codes (humidstatTempCode column).
// Code 0 is nominal; everything else is a hardware fault.
var htCodes = map[int]string{
	0: "OK",
	1: "humidity write failure",
	2: "humidity measurement unfinished",
	3: "temperature write failure",
	4: "temperature measurement unfinished",
	5: "humidity data line not high",
	6: "temperature data line not high",
}

var cloudCodes = map[int]string{
	0: "unknown",
	1: "clear",
	2: "cloudy",
	3: "very cloudy",
}

var windCodes = map[int]string{
	0: "unknown",
	1: "OK",
	2: "windy",
	3: "very windy",
}

// Rain condition codes. Code 3 means it is raining right now.
var rainCodes = map[int]string{
	0: "unknown",
	1: "not raining",
	2: "recently raining",
	3: "raining",
}

const rainCodeRaining = 3

var skyCodes = map[int]string{
	0: "unknown",
	1: "clear",
	2: "cloudy",
	3: "very cloudy",
	4: "wet",
}

var daylightCodes = map[int]string{
	0: "unknown",
	1: "night",
	2: "twilight",
	3: "daylight",
}

// Rain heater state codes. The firmware reports 0 ("OK") and 7 ("normal
// control") during normal operation; the remaining in-range codes decode
// fine but still indicate a heater problem.
var heaterCodes = map[int]string{
	0: "OK",
	1: "too hot",
	2: "too cold",
	3: "too cold",
	4: "too cold",
	5: "too cold",
	6: "saturated case temperature",
	7: "normal control",
}

// heaterNominal reports whether a heater code needs no operator attention.
func heaterNominal(code int) bool {
	return code == 0 || code == 7
}

// Sky-minus-ambient sentinel limits. The head encodes thermopile faults as
// out-of-range temperature differentials, so the reading has to be compared
// against these limits sequentially, in this exact order. The last two
// bands overlap; that mirrors the head's fault encoding, quirks included.
const (
	skySaturatedHotLimit  = 999.0  // above: thermopile saturated hot
	skyWetSensorLimit     = -998.0 // below: wet sensor
	skySaturatedColdLimit = -999.0 // below: saturated cold, overrides wet
)

const (
	skySaturatedHotLabel  = "saturated hot"
	skyWetSensorLabel     = "wet sensor"
	skySaturatedColdLabel = "saturated cold"
)

// Anemometer temperature-differential advisory bands, checked from the
// shallowest limit down; a deeper match supersedes the previous label.
var anemometerBands = []struct {
	limit float64
	label string
}{
	{-0.5, "heating up"},
	{-1.5, "wet"},
	{-2.5, "bad A/D"},
	{-3.5, "probe not heating"},
}
