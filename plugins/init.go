// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/shredtap/pkg/plugin"
	"firestige.xyz/shredtap/plugins/output/console"
	"firestige.xyz/shredtap/plugins/output/fecset"
	"firestige.xyz/shredtap/plugins/output/kafka"
	"firestige.xyz/shredtap/plugins/output/nats"
	"firestige.xyz/shredtap/plugins/output/pcap"
	"firestige.xyz/shredtap/plugins/output/store"
)

func init() {
	plugin.RegisterOutput(console.TypeName, console.New)
	plugin.RegisterOutput(kafka.TypeName, kafka.New)
	plugin.RegisterOutput(nats.TypeName, nats.New)
	plugin.RegisterOutput(store.TypeName, store.New)
	plugin.RegisterOutput(pcap.TypeName, pcap.New)
	plugin.RegisterOutput(fecset.TypeName, fecset.New)
}
