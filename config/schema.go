package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

const schemaSource = `
#Duration: =~ #"^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"#

#Endpoint: {
	address:    string
	unit_id?:   int & >=0 & <=247
	timeout?:   #Duration
	baud_rate?: int & >0
	parity?:    "N" | "E" | "O"
}

#Load: {
	name:        string & !=""
	power:       number & >0
	lock_on?:    #Duration
	lock_off?:   #Duration
	output?:     int & >=0
	mode_input?: int & >=0
	remote?: {
		protocol: "none" | "gmomxsen" | "mqtt"
		channel?: int
	}
}

#Config: {
	name?: string
	scheduler?: {
		decide_period?:  #Duration
		refresh_period?: #Duration
		refresh_jitter?: #Duration
		source?:         "pseudo" | "math" | "secure" | "crypto"
		seed?:           int
	}
	measure?: {
		grid_frequency?:              number & >0
		reference_voltage?:           number & >0
		max_amplitude?:               number & >0
		nominal_voltage?:             number & >0
		nominal_generation_current?:  number & >0
		nominal_consumption_current?: number & >0
		time_constant?:               #Duration
		max_consumption?:             number & >0
	}
	sampler?: {
		driver?: "synthetic" | "modbus"
		modbus?: {
			endpoint:              #Endpoint
			offset_register?:      int & >=0 & <=65535
			voltage_register?:     int & >=0 & <=65535
			generation_register?:  int & >=0 & <=65535
			consumption_register?: int & >=0 & <=65535
		}
	}
	simulation?: {
		mode?:                  "off" | "analog" | "power"
		generation_amplitude?:  int
		consumption_amplitude?: int
		voltage_amplitude?:     int
		generation_shift?:      int & >=0
		consumption_shift?:     int & >=0
		offset?:                int & >=0
		generated_power?:       int & >=0
		consumed_power?:        int & >=0
	}
	pins?: {
		driver?:   "memory" | "modbus"
		endpoint?: #Endpoint
		inputs?: [=~"^[0-9]+$"]: bool
	}
	transports?: {
		rf?: {
			enabled?: bool
			pin?:     int & >=0
		}
		mqtt?: {
			enabled?:     bool
			broker?:      string
			client_id?:   string
			username?:    string
			password?:    string
			topic?:       string
			payload_on?:  string
			payload_off?: string
			qos?:         0 | 1 | 2
			retain?:      bool
			timeout?:     #Duration
		}
	}
	loads?: [...#Load]
	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
		format?: "json" | "text"
		loki?: {
			enabled?: bool
			url?:     string
			labels?: [string]: string
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
		listen?:   string
	}
	console?: {
		enabled?:    bool
		print_code?: string
	}
	hot_reload?: bool
}
`

// CheckSchema validates raw YAML against the configuration schema. Unknown keys and
// values of the wrong type are rejected before the document is decoded.
func CheckSchema(filename string, raw []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("surplus.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	file, err := cueyaml.Extract(filename, raw)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build config %s: %w", filename, err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
