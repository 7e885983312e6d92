package sagemaker

import (
	"fmt"
	"strconv"

	lib "smctl/lib/endpoint"
)

// Hugging Face text-generation inference containers, keyed by region. The
// registry account is region-specific.
var imageURIs = map[string]string{
	"us-east-1":      "763104351884.dkr.ecr.us-east-1.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"us-east-2":      "763104351884.dkr.ecr.us-east-2.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"us-west-2":      "763104351884.dkr.ecr.us-west-2.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"eu-west-1":      "763104351884.dkr.ecr.eu-west-1.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"eu-central-1":   "763104351884.dkr.ecr.eu-central-1.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"ap-south-1":     "763104351884.dkr.ecr.ap-south-1.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
	"ap-southeast-1": "763104351884.dkr.ecr.ap-southeast-1.amazonaws.com/huggingface-pytorch-inference:2.6.0-transformers4.49.0-gpu-py312-cu124-ubuntu22.04",
}

func getImage(region string) (string, error) {
	url, ok := imageURIs[region]
	if !ok {
		return "", fmt.Errorf("no inference image registered for region %s", region)
	}
	return url, nil
}

// containerEnv maps the spec's runtime options onto the inference backend's
// environment. Keys the backend does not recognize are harmless, so Extra
// entries are passed through opaquely.
func containerEnv(spec lib.Spec) map[string]*string {
	env := map[string]string{
		"HF_MODEL_ID":                    spec.ModelID,
		"HF_TASK":                        "text-generation",
		"SAGEMAKER_MODEL_SERVER_TIMEOUT": strconv.Itoa(spec.ServerTimeoutSeconds),
		"SAGEMAKER_MODEL_SERVER_WORKERS": "1",
		"MAX_CONTEXT_LENGTH":             strconv.Itoa(spec.MaxContextLength),
		"MAX_NEW_TOKENS":                 strconv.Itoa(spec.MaxNewTokens),
		"SM_NUM_GPUS":                    strconv.Itoa(spec.NumGPUs),
		"TRUST_REMOTE_CODE":              "true",
		"PYTORCH_CUDA_ALLOC_CONF":        "expandable_segments:True",
		"CUDA_LAUNCH_BLOCKING":           "1",
	}
	for k, v := range spec.Extra {
		env[k] = v
	}
	out := make(map[string]*string, len(env))
	for k, v := range env {
		value := v
		out[k] = &value
	}
	return out
}
