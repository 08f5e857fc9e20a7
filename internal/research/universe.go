package research

import (
	"fmt"
	"strings"
)

// Theme queries keyed by symbol, grouped roughly by where each name sits in
// the AI buildout.
var themeQueries = map[string]string{
	// Compute and semis.
	"NVDA": "NVIDIA AI chips data center GPU",
	"AMD":  "AMD MI300 AI accelerator data center",
	"AVGO": "Broadcom AI networking custom silicon",
	"TSM":  "TSMC AI semiconductor foundry",
	"ASML": "ASML EUV lithography AI chip demand",
	"MU":   "Micron HBM memory AI demand",
	"ARM":  "Arm AI CPU architecture data center",
	"MRVL": "Marvell AI networking silicon",
	"AMAT": "Applied Materials semiconductor equipment AI demand",
	"LRCX": "Lam Research wafer fabrication AI chips",

	// Cloud and data center infrastructure.
	"MSFT":  "Microsoft Azure OpenAI AI cloud infrastructure",
	"AMZN":  "Amazon AWS Bedrock Trainium Inferentia AI cloud",
	"GOOGL": "Google Gemini TPU cloud AI infrastructure",
	"META":  "Meta Llama AI infrastructure data center",
	"ANET":  "Arista AI ethernet interconnect data center",
	"SMCI":  "Supermicro AI server infrastructure",
	"DELL":  "Dell AI server data center infrastructure",
	"VRT":   "Vertiv data center cooling power AI buildout",
	"EQIX":  "Equinix data center colocation AI infrastructure",
	"DLR":   "Digital Realty hyperscaler data center AI demand",
	"ETN":   "Eaton electrical power systems AI data centers",
	"CEG":   "Constellation Energy power demand AI data centers",

	// Software platforms.
	"ORCL": "Oracle AI cloud database infrastructure",
	"SNOW": "Snowflake AI data platform enterprise",
	"PLTR": "Palantir AI platform government enterprise",
	"CRM":  "Salesforce Einstein AI software platform",
	"NOW":  "ServiceNow enterprise workflow generative AI",
	"MDB":  "MongoDB AI application data platform",
	"DDOG": "Datadog observability AI cloud workloads",
	"NET":  "Cloudflare AI inference edge platform",
	"ADBE": "Adobe Firefly AI software platform",

	// Raw materials.
	"FCX":  "Freeport McMoRan copper supply data center AI",
	"SCCO": "Southern Copper copper demand data centers AI",
	"MP":   "MP Materials rare earth magnets AI supply chain",
	"ALB":  "Albemarle lithium energy storage data center",
	"SQM":  "SQM lithium supply chain data center power",

	// Space and defense.
	"RKLB": "Rocket Lab launch services satellite infrastructure AI",
	"ASTS": "AST SpaceMobile satellite broadband connectivity AI edge",
	"IRDM": "Iridium satellite communications resilient network infrastructure",
	"SPIR": "Spire Global satellite data analytics AI geospatial",
	"PL":   "Planet Labs earth observation satellite imagery AI",
	"LMT":  "Lockheed Martin space systems missile defense satellite AI",
	"NOC":  "Northrop Grumman space systems satellite infrastructure",
	"RTX":  "RTX aerospace defense sensors radar space systems AI",
}

var quantumQueries = map[string]string{
	"IONQ": "IonQ quantum computing",
	"RGTI": "Rigetti quantum computing",
	"QBTS": "D-Wave quantum computing",
}

// BuildThemeMap resolves each universe symbol to its research query. Unknown
// symbols get a generic AI-theme query so they are never silently skipped.
func BuildThemeMap(symbols []string, includeQuantum bool) map[string]string {
	known := make(map[string]string, len(themeQueries)+len(quantumQueries))
	for k, v := range themeQueries {
		known[k] = v
	}
	if includeQuantum {
		for k, v := range quantumQueries {
			known[k] = v
		}
	}

	resolved := make(map[string]string, len(symbols))
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		query, ok := known[symbol]
		if !ok {
			query = fmt.Sprintf("%s AI compute infrastructure software platform data center raw materials space", symbol)
		}
		resolved[symbol] = query
	}
	return resolved
}
