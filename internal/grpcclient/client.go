package grpcclient

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/posture-check/internal/logging"
	"github.com/example/posture-check/internal/poseestimator"
)

const (
	// EstimateMethod is the unary RPC exposed by the pose engine.
	EstimateMethod = "/pose.v1.PoseEstimator/Estimate"
	// SessionMetadataKey carries the monitoring session id to the pose engine.
	SessionMetadataKey = "x-session-id"
)

// DialPoseEstimator returns a ready-to-use gRPC client for the pose engine.
func DialPoseEstimator(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (poseestimator.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_pose_estimator", "", err)
		logger.Error("failed to dial pose estimator", append(logging.ErrorFields(wrapped), zap.String("addr", addr))...)
		return nil, nil, wrapped
	}
	return &grpcPoseEstimator{conn: conn, logger: logger.Named("pose_estimator")}, conn, nil
}

type grpcPoseEstimator struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// estimateResponse mirrors the Struct payload returned by the engine.
type estimateResponse struct {
	Detected  bool                     `json:"detected"`
	Width     float64                  `json:"width"`
	Height    float64                  `json:"height"`
	Landmarks []poseestimator.Landmark `json:"landmarks"`
}

func (g *grpcPoseEstimator) Estimate(ctx context.Context, sessionID string, image []byte) (*poseestimator.Result, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, sessionID)

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, EstimateMethod, wrapperspb.Bytes(image), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.estimate_pose", sessionID, err)
		g.logger.Error("pose estimator call failed", logging.ErrorFields(wrapped)...)
		return nil, wrapped
	}

	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_pose", sessionID, err)
	}
	var decoded estimateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		wrapped := logging.NewOperationError("grpcclient.decode_pose", sessionID, err)
		g.logger.Warn("malformed pose estimator response", logging.ErrorFields(wrapped)...)
		return nil, wrapped
	}

	return &poseestimator.Result{
		Detected:  decoded.Detected && len(decoded.Landmarks) > 0,
		Width:     int(decoded.Width),
		Height:    int(decoded.Height),
		Landmarks: decoded.Landmarks,
	}, nil
}
