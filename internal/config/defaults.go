package config

// DefaultConfigYAML is written by `rehab config init` and documents every key.
const DefaultConfigYAML = `# rehab-flow configuration
# Values not specified here use the built-in defaults.

log:
  level: info        # debug, info, warn, error
  format: auto       # auto, text, json

gateway:
  provider: openai   # openai, cli, scripted
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY
  model: gpt-4o-mini
  temperature: 0.2
  max_tokens: 2048
  timeout: 2m
  retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 30s
  rate_limit:
    requests_per_minute: 0   # 0 disables client-side limiting
    burst: 1

workflow:
  audience_level: non-professional   # non-professional, professional, top-expert
  interactive: true

# Stages without a predicate run exactly once.
# Predicate kinds: llm (judge call), self (stage reports done), rule (expression), any, all.
stages:
  inquiry:
    max_iterations: 3
    predicate:
      kind: llm
  diagnosis:
    max_iterations: 1
    single_call: false   # true collapses draft -> examination -> review into one call
  elimination:
    max_iterations: 4
    predicate:
      kind: any
      of:
        - kind: self
        - kind: rule
          engine: cel
          expression: size(record.differential_diagnoses) == 0
  treatment:
    max_iterations: 1
  report:
    max_iterations: 1

state:
  backend: json      # none, json, sqlite
  path: .rehab/runs

report:
  enabled: true
  dir: .rehab/reports

server:
  addr: 127.0.0.1:8088
  max_concurrent_runs: 4
  cors_origins:
    - http://localhost:5173
`
