package advisor

import (
	"fmt"
	"strings"
)

const buildFromEvidenceTemplate = `You are a senior DevOps engineer.
Create a robust conda environment.yml for the project described below.

### PROJECT DETAILS
- Project name: %s
- Python version (target): %s
- Hardware acceleration: %s

### COLLECTED EVIDENCE
%s

### STRICT RULES
1. Package mapping: torch -> pytorch, opencv-python/cv2 -> opencv, Pillow -> pillow.
2. If hardware acceleration is "none", do NOT include cudatoolkit/cuda/nvidia
   packages or the nvidia channel.
3. Channel priority: pytorch, nvidia (only with CUDA), conda-forge, defaults.
4. Prefer explicit versions found in declaration files; choose conservative
   stable versions for packages inferred only from imports.
5. Do not include test-only or dev-only tools unless declarations require them.
6. Output ONLY raw YAML with a name field and a dependencies sequence.
   No markdown, no explanations.`

const buildFromDeclarationsTemplate = `You are a senior DevOps engineer.
Convert the existing environment declaration file(s) below into one unified
conda environment.yml.

### PROJECT DETAILS
- Project name: %s
- Python version (target): %s

### EXISTING DECLARATION CONTENT
%s

### STRICT RULES
1. Package normalization: torch -> pytorch, opencv-python -> opencv,
   tensorflow-gpu -> tensorflow.
2. Keep explicit version pins from the declarations.
3. Output ONLY raw YAML. No markdown.`

const repairTemplate = `You are an expert DevOps engineer specializing in Python environments.
A conda environment creation FAILED. Fix the environment.yml.

### EXECUTION CONTEXT
%s

### CURRENT environment.yml
%s

### ERROR LOG
%s

### FIX HISTORY
%s

### REPAIR STRATEGY
1. Build errors (gcc, Python.h, wheel): move the failing pip package to the
   main dependencies section and drop its version constraint so conda can
   pick a prebuilt binary.
2. Solver conflicts (UnsatisfiableError): identify the conflicting package
   and RELAX its constraint (numpy==1.21.0 -> numpy).
3. Only change the interpreter version when the error gives clear evidence.
4. NEVER modify or remove editable install lines ("- -e /path"); keep them
   exactly as-is.
5. Be surgical: change only what the error requires.

### OUTPUT RULES
Return ONLY the fixed YAML content. No markdown fences, no explanations.`

// BuildFromEvidencePrompt assembles the initial advisory request from the
// bounded evidence payload.
func BuildFromEvidencePrompt(projectName, pythonVersion, accel, payload string) string {
	return fmt.Sprintf(buildFromEvidenceTemplate, projectName, pythonVersion, accel, payload)
}

// BuildFromDeclarationsPrompt assembles the conversion request used when the
// project already carries authoritative declaration files.
func BuildFromDeclarationsPrompt(projectName, pythonVersion, collected string) string {
	return fmt.Sprintf(buildFromDeclarationsTemplate, projectName, pythonVersion, collected)
}

// RepairPrompt assembles one repair request: fixed instructions, current spec
// text, the captured error, and the serialized fix memory so the service does
// not repeat failed strategies.
func RepairPrompt(systemContext, currentYAML, errorMessage, history string) string {
	if strings.TrimSpace(history) == "" {
		history = "None - this is the first attempt"
	}
	if strings.TrimSpace(systemContext) == "" {
		systemContext = "Unknown"
	}
	return fmt.Sprintf(repairTemplate, systemContext, currentYAML, errorMessage, history)
}
