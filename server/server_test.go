package server_test

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omlserver/oml/algorithm"
	"github.com/omlserver/oml/dispatcher"
	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/server"
	"github.com/omlserver/oml/storage/checkpoint"
	"github.com/omlserver/oml/transport"
	"github.com/omlserver/oml/transport/frontends"
	grpcfrontend "github.com/omlserver/oml/transport/frontends/grpc"
	"github.com/omlserver/oml/transport/frontends/rest"
	"github.com/omlserver/oml/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// panicking poisons the store on every training step
type panicking struct {
	algorithm.Algorithm
}

func (p *panicking) TrainingStep(ctx context.Context, store *model.Store, x float64) error {
	_, err := store.Write(func(parameters []float64) {
		panic("training diverged")
	})

	return err
}

func newServer(config server.Config) *server.Server {
	if config.Logger == nil {
		config.Logger = log.NewTestLogger(zapcore.AddSync(GinkgoWriter))
	}

	if config.Algorithm == nil {
		config.Algorithm = algorithm.NewDummy(algorithm.NoCost)
	}

	s, err := server.New(config)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(s.Close)

	return s
}

func values(s *server.Server) []float64 {
	snapshot, err := s.Parameters(context.Background(), 0)
	Expect(err).NotTo(HaveOccurred())

	return snapshot.Values()
}

var _ = Describe("Server", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("requires an algorithm", func() {
		_, err := server.New(server.Config{Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())
	})

	Describe("compute steps", func() {
		It("trains and infers against the shared store", func() {
			s := newServer(server.Config{Parameters: []float64{1, 2}})

			Expect(s.Train(ctx, 3)).To(Succeed())
			Expect(values(s)).To(Equal([]float64{3, 6}))

			y, err := s.Infer(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(y).To(Equal(18.0))
		})

		It("applies concurrent training steps exactly once each", func() {
			s := newServer(server.Config{Parameters: []float64{1}, Workers: 4})
			done := make(chan error)

			for i := 0; i < 10; i++ {
				go func() {
					done <- s.Train(ctx, 2)
				}()
			}

			for i := 0; i < 10; i++ {
				Expect(<-done).To(Succeed())
			}

			snapshot, err := s.Parameters(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.Values()).To(Equal([]float64{1024}))
			Expect(snapshot.Revision()).To(Equal(int64(11)))
		})

		It("reads retained revisions", func() {
			s := newServer(server.Config{Parameters: []float64{1}, History: 1})

			Expect(s.Train(ctx, 2)).To(Succeed())
			Expect(s.Train(ctx, 2)).To(Succeed())

			snapshot, err := s.Parameters(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.Values()).To(Equal([]float64{2}))

			snapshot, err = s.Parameters(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.Revision()).To(Equal(int64(3)))

			_, err = s.Parameters(ctx, 1)
			Expect(err).To(MatchError(model.ErrCompacted))

			_, err = s.Parameters(ctx, 4)
			Expect(err).To(MatchError(model.ErrRevisionTooHigh))
		})

		It("returns zero for an empty model", func() {
			s := newServer(server.Config{Parameters: []float64{}})

			y, err := s.Infer(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(y).To(BeZero())
		})

		It("reports non-finite input as a compute error", func() {
			s := newServer(server.Config{Parameters: []float64{1}})

			_, err := s.Infer(ctx, math.Inf(1))
			Expect(algorithm.IsComputeError(err)).To(BeTrue())
		})
	})

	Describe("request timeout", func() {
		It("stops waiting without aborting the step", func() {
			s := newServer(server.Config{
				Parameters:     []float64{1},
				Algorithm:      algorithm.NewDummy(algorithm.SleepCost(200*time.Millisecond, 0)),
				RequestTimeout: 10 * time.Millisecond,
			})

			Expect(s.Train(ctx, 2)).To(MatchError(dispatcher.ErrTimeout))
			Eventually(func() []float64 { return values(s) }).WithTimeout(2 * time.Second).Should(Equal([]float64{2}))
		})
	})

	Describe("poisoning", func() {
		It("turns unhealthy after a step panics while writing", func() {
			s, err := server.New(server.Config{
				Logger:     zap.NewNop(),
				Parameters: []float64{1},
				Algorithm:  &panicking{Algorithm: algorithm.NewDummy(algorithm.NoCost)},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Healthy()).To(BeTrue())
			Expect(s.Train(ctx, 2)).To(MatchError(dispatcher.ErrWorkerFailure))
			Expect(s.Healthy()).To(BeFalse())

			_, err = s.Infer(ctx, 1)
			Expect(err).To(MatchError(model.ErrLockFailure))
			Expect(s.Close()).To(Succeed())
		})
	})

	Describe("checkpoints", func() {
		var checkpoints *checkpoint.Store

		BeforeEach(func() {
			var err error

			checkpoints, err = checkpoint.OpenTemp(2)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(checkpoints.Delete)
		})

		It("saves periodically and on close", func() {
			s, err := server.New(server.Config{
				Logger:          zap.NewNop(),
				Parameters:      []float64{1, 2},
				Algorithm:       algorithm.NewDummy(algorithm.NoCost),
				Checkpoints:     checkpoints,
				CheckpointEvery: 2,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Train(ctx, 2)).To(Succeed())
			_, err = checkpoints.Latest()
			Expect(err).To(MatchError(checkpoint.ErrNoCheckpoint))

			Expect(s.Train(ctx, 2)).To(Succeed())
			latest, err := checkpoints.Latest()
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(Equal(checkpoint.Checkpoint{Revision: 3, Parameters: []float64{4, 8}}))

			Expect(s.Train(ctx, 0.5)).To(Succeed())
			Expect(s.Close()).To(Succeed())

			latest, err = checkpoints.Latest()
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(Equal(checkpoint.Checkpoint{Revision: 4, Parameters: []float64{2, 4}}))
		})

		It("restores the latest checkpoint", func() {
			first := newServer(server.Config{Parameters: []float64{1, 2}, Checkpoints: checkpoints})
			Expect(first.Train(ctx, 3)).To(Succeed())
			Expect(first.Close()).To(Succeed())

			second := newServer(server.Config{Parameters: []float64{100}, Checkpoints: checkpoints})
			snapshot, err := second.Parameters(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.Revision()).To(Equal(int64(2)))
			Expect(snapshot.Values()).To(Equal([]float64{3, 6}))

			revisions, err := checkpoints.Revisions()
			Expect(err).NotTo(HaveOccurred())
			Expect(revisions).To(Equal([]int64{2}))
		})
	})

	Describe("Run", func() {
		It("serves every frontend until the context is done", func() {
			registry := prometheus.NewRegistry()
			s, err := server.New(server.Config{
				Logger:     zap.NewNop(),
				Parameters: []float64{1, 2},
				Algorithm:  algorithm.NewDummy(algorithm.NoCost),
				Registerer: registry,
			})
			Expect(err).NotTo(HaveOccurred())

			options := frontends.Options{Server: s, Logger: zap.NewNop(), Gatherer: registry}
			restFrontend := &rest.Frontend{}
			grpcFrontend := &grpcfrontend.Frontend{}
			Expect(restFrontend.Init(options)).To(Succeed())
			Expect(grpcFrontend.Init(options)).To(Succeed())

			restListener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			result := make(chan error, 1)

			go func() {
				result <- s.Run(runCtx,
					server.Endpoint{Name: "rest", Frontend: restFrontend, Listener: restListener},
					server.Endpoint{Name: "grpc", Frontend: grpcFrontend, Listener: grpcListener},
				)
			}()

			conn, err := grpc.NewClient(grpcListener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			clients := []transport.ModelClient{
				rest.NewClient("http://"+restListener.Addr().String(), nil),
				grpcfrontend.NewClient(conn),
			}

			for _, client := range clients {
				Expect(client.Train(ctx, 2)).To(Succeed())
			}

			for _, client := range clients {
				y, err := client.Infer(ctx, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(y).To(Equal(12.0))

				parameters, err := client.Parameters(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(parameters).To(Equal(transport.Parameters{Revision: 3, Parameters: []float64{4, 8}}))

				_, err = client.Parameters(ctx, 2)
				Expect(err).To(MatchError(transport.ErrGone))
			}

			resp, err := http.Get("http://" + restListener.Addr().String() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`oml_dispatcher_submissions_total{class="ok",kind="train"} 2`))

			cancel()
			Eventually(result).WithTimeout(5 * time.Second).Should(Receive(BeNil()))

			_, err = s.Infer(ctx, 1)
			Expect(err).To(MatchError(dispatcher.ErrStopped))
		})

		It("requires an endpoint", func() {
			s := newServer(server.Config{Parameters: []float64{1}})

			Expect(s.Run(ctx)).NotTo(Succeed())
		})
	})
})
