package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/T3-Labs/edge-surface/pkg/config"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Caminho para o arquivo de configuração")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("❌ Erro ao carregar config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Configuração carregada com sucesso!")

	fmt.Println("\n=== Configuração Efetiva ===")
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Printf("❌ Erro ao serializar config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(out))

	fmt.Println("\n=== Cálculo Derivado ===")
	thresholds := cfg.MemoryThresholds()
	fmt.Printf("Frame Interval: %v\n", cfg.GetFrameInterval())
	fmt.Printf("Status Interval: %v\n", cfg.StatusInterval())
	fmt.Printf("AMQP Vhost: %s\n", cfg.ExtractVhostFromAMQP())
	fmt.Printf("Memory Check Interval: %v\n", thresholds.CheckInterval)
	if cfg.Pool.MaxHardwareSlots > 0 {
		copyAt := int(math.Ceil(float64(cfg.Pool.MaxHardwareSlots) * (1 - cfg.Pool.CopyThreshold)))
		fmt.Printf("Cópia a partir de %d/%d slots de hardware ocupados\n", copyAt, cfg.Pool.MaxHardwareSlots)
	}
}
