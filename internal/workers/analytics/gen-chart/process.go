package genchart

import _ "embed"

// ProcessResourceName is the deployment name of ProcessDefinition.
const ProcessResourceName = "gen-chart-process.bpmn"

// ProcessDefinition models one gen-chart service task; any BPMN error thrown
// by the worker ends the instance on the failure path.
//
//go:embed process.bpmn
var ProcessDefinition []byte
