package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubetopo/kubetopo/pkg/graph"
	"github.com/kubetopo/kubetopo/pkg/telemetry"
	"github.com/kubetopo/kubetopo/pkg/watch"
)

// run wires the process together: logger, kube client, graph store,
// synchronizer, and one supervised watch loop per resource kind. It blocks
// until a termination signal arrives, then lets in-flight work drain.
func run(ctx context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting kubetopo")

	inst, err := telemetry.NewInstrumentation(logger)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation: %w", err)
	}

	kubeClient, err := newKubeClient()
	if err != nil {
		return fmt.Errorf("failed to create kube client: %w", err)
	}

	store, err := graph.NewStore(graph.Config{
		URI:      viper.GetString("neo4j.uri"),
		Username: viper.GetString("neo4j.username"),
		Password: viper.GetString("neo4j.password"),
		Database: viper.GetString("neo4j.database"),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create graph store: %w", err)
	}
	defer store.Close(context.Background())

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	syncer, err := graph.NewSynchronizer(store, logger, inst)
	if err != nil {
		return fmt.Errorf("failed to create synchronizer: %w", err)
	}

	dispatcher, err := watch.NewDispatcher(watch.Config{
		KubeClient:      kubeClient,
		Syncer:          syncer,
		Logger:          logger,
		Instrumentation: inst,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	supervisor := watch.NewSupervisor(logger, inst)
	supervisor.Go(watchCtx, "node", dispatcher.WatchNodes)
	supervisor.Go(watchCtx, "namespace", dispatcher.WatchNamespaces)
	supervisor.Go(watchCtx, "pod", dispatcher.WatchPods)
	supervisor.Go(watchCtx, "deployment", dispatcher.WatchDeployments)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()
	supervisor.Wait()
	logger.Info("Graceful shutdown completed")
	return nil
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newKubeClient tries in-cluster config first and falls back to kubeconfig.
func newKubeClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		path := viper.GetString("kubeconfig")
		if path == "" {
			path = clientcmd.RecommendedHomeFile
		}
		config, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("failed to load kube config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kube client: %w", err)
	}
	return client, nil
}
