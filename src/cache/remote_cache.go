package cache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	rapidigest "github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	"github.com/google/uuid"
	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"golang.org/x/sync/errgroup"
	bs "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"

	razdigest "github.com/reu-dev/razel/src/digest"
)

const (
	dialTimeout = 5 * time.Second
	reqTimeout  = 2 * time.Minute
	maxRetries  = 3
	// defaultMaxBatchBlobSize is assumed when a server reports no limit;
	// it mirrors gRPC's own default max message size less some headroom
	// for request framing overhead.
	defaultMaxBatchBlobSize = 4000000
)

// RemoteCache is a best-effort client for a Bazel remote-execution-v2
// compatible cache server: it negotiates capabilities once at connect
// time, then serves action-cache lookups synchronously and action-result
// pushes asynchronously through a bounded upload queue, so a slow or
// unreachable remote cache never blocks the local build.
type RemoteCache struct {
	conn              *grpc.ClientConn
	ac                pb.ActionCacheClient
	cas               pb.ContentAddressableStorageClient
	bs                bs.ByteStreamClient
	instanceName      string
	maxBatchBlobSize  int64
	updateEnabled     bool

	uploadQueue chan func(context.Context)
	wg          sync.WaitGroup
}

// Dial connects to a remote cache server at url and negotiates
// capabilities, failing fast if the server doesn't support the action
// cache or doesn't speak a compatible digest function.
func Dial(url, instanceName string, uploadQueueDepth int) (*RemoteCache, error) {
	conn, err := grpc.Dial(url,
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithTimeout(dialTimeout),
		grpc.WithUnaryInterceptor(grpc_retry.UnaryClientInterceptor(grpc_retry.WithMax(maxRetries))),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: dialling remote cache %s: %w", url, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	caps, err := pb.NewCapabilitiesClient(conn).GetCapabilities(ctx, &pb.GetCapabilitiesRequest{InstanceName: instanceName})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: querying capabilities of %s: %w", url, err)
	}
	cacheCaps := caps.CacheCapabilities
	if cacheCaps == nil {
		conn.Close()
		return nil, fmt.Errorf("cache: server %s has no cache capabilities (execution-only servers are not supported)", url)
	}
	if !supportsSHA256(cacheCaps.DigestFunctions) {
		conn.Close()
		return nil, fmt.Errorf("cache: server %s does not support SHA256 digests", url)
	}

	maxSize := cacheCaps.MaxBatchTotalSizeBytes
	if maxSize == 0 {
		maxSize = defaultMaxBatchBlobSize
	}
	updateEnabled := cacheCaps.ActionCacheUpdateCapabilities != nil && cacheCaps.ActionCacheUpdateCapabilities.UpdateEnabled

	rc := &RemoteCache{
		conn:             conn,
		ac:               pb.NewActionCacheClient(conn),
		cas:              pb.NewContentAddressableStorageClient(conn),
		bs:               bs.NewByteStreamClient(conn),
		instanceName:     instanceName,
		maxBatchBlobSize: maxSize,
		updateEnabled:    updateEnabled,
		uploadQueue:      make(chan func(context.Context), uploadQueueDepth),
	}
	rc.wg.Add(1)
	go rc.runUploadQueue()
	return rc, nil
}

func supportsSHA256(fns []pb.DigestFunction_Value) bool {
	if len(fns) == 0 {
		return true // server didn't restrict; assume SHA256 per the REAPI default
	}
	for _, fn := range fns {
		if fn == pb.DigestFunction_SHA256 {
			return true
		}
	}
	return false
}

// Close stops accepting new uploads, waits for queued ones to drain, and
// closes the underlying connection.
func (rc *RemoteCache) Close() error {
	close(rc.uploadQueue)
	rc.wg.Wait()
	return rc.conn.Close()
}

func (rc *RemoteCache) runUploadQueue() {
	defer rc.wg.Done()
	for task := range rc.uploadQueue {
		ctx, cancel := context.WithTimeout(context.Background(), reqTimeout)
		task(ctx)
		cancel()
	}
}

// GetActionResult looks up actionDigest in the remote action cache.
func (rc *RemoteCache) GetActionResult(ctx context.Context, actionDigest razdigest.Digest) (*pb.ActionResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()
	ar, err := rc.ac.GetActionResult(ctx, &pb.GetActionResultRequest{
		InstanceName: rc.instanceName,
		ActionDigest: toPbDigest(actionDigest),
	})
	if err != nil {
		return nil, false
	}
	return ar, true
}

// PushActionResultAsync enqueues an update to the remote action cache; it
// returns immediately and the actual RPC happens on the background upload
// goroutine. If the queue is full the push is dropped -- a missed push
// only costs a future cache miss, never correctness.
func (rc *RemoteCache) PushActionResultAsync(actionDigest razdigest.Digest, ar *pb.ActionResult) {
	if !rc.updateEnabled {
		return
	}
	task := func(ctx context.Context) {
		if _, err := rc.ac.UpdateActionResult(ctx, &pb.UpdateActionResultRequest{
			InstanceName: rc.instanceName,
			ActionDigest: toPbDigest(actionDigest),
			ActionResult: ar,
		}); err != nil {
			log.Warning("failed to push action result %s to remote cache: %s", actionDigest, err)
		}
	}
	select {
	case rc.uploadQueue <- task:
	default:
		log.Warning("remote cache upload queue full, dropping push of %s", actionDigest)
	}
}

// MissingBlobs asks the CAS which of the given digests are not present
// remotely, used to decide whether a remote action-cache hit's outputs
// can actually be downloaded.
func (rc *RemoteCache) MissingBlobs(ctx context.Context, digests []razdigest.Digest) ([]razdigest.Digest, error) {
	pbDigests := make([]*pb.Digest, len(digests))
	for i, d := range digests {
		pbDigests[i] = toPbDigest(d)
	}
	ctx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()
	resp, err := rc.cas.FindMissingBlobs(ctx, &pb.FindMissingBlobsRequest{
		InstanceName: rc.instanceName,
		BlobDigests:  pbDigests,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: FindMissingBlobs: %w", err)
	}
	missing := make([]razdigest.Digest, len(resp.MissingBlobDigests))
	for i, d := range resp.MissingBlobDigests {
		missing[i] = fromPbDigest(d)
	}
	return missing, nil
}

// DownloadBlobs fetches the given digests, batching them up to
// maxBatchBlobSize and falling back to the ByteStream API for any single
// blob that exceeds it on its own. Downloads for distinct digests proceed
// concurrently via an errgroup.
func (rc *RemoteCache) DownloadBlobs(ctx context.Context, digests []razdigest.Digest) (map[string][]byte, error) {
	results := make(map[string][]byte, len(digests))
	var mu sync.Mutex

	var batch []razdigest.Digest
	var oversized []razdigest.Digest
	var batchSize int64
	flushBatches := make([][]razdigest.Digest, 0)
	for _, d := range digests {
		if d.SizeBytes > rc.maxBatchBlobSize {
			oversized = append(oversized, d)
			continue
		}
		if batchSize+d.SizeBytes > rc.maxBatchBlobSize && len(batch) > 0 {
			flushBatches = append(flushBatches, batch)
			batch = nil
			batchSize = 0
		}
		batch = append(batch, d)
		batchSize += d.SizeBytes
	}
	if len(batch) > 0 {
		flushBatches = append(flushBatches, batch)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range flushBatches {
		b := b
		g.Go(func() error {
			blobs, err := rc.batchReadBlobs(ctx, b)
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range blobs {
				results[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	for _, d := range oversized {
		d := d
		g.Go(func() error {
			data, err := rc.readByteStream(ctx, d)
			if err != nil {
				return err
			}
			mu.Lock()
			results[d.Hash] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (rc *RemoteCache) batchReadBlobs(ctx context.Context, digests []razdigest.Digest) (map[string][]byte, error) {
	pbDigests := make([]*pb.Digest, len(digests))
	for i, d := range digests {
		pbDigests[i] = toPbDigest(d)
	}
	resp, err := rc.cas.BatchReadBlobs(ctx, &pb.BatchReadBlobsRequest{
		InstanceName: rc.instanceName,
		Digests:      pbDigests,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: BatchReadBlobs: %w", err)
	}
	out := make(map[string][]byte, len(resp.Responses))
	for _, r := range resp.Responses {
		if r.Status != nil && r.Status.Code != 0 {
			return nil, fmt.Errorf("cache: BatchReadBlobs: blob %s: %s", r.Digest.Hash, r.Status.Message)
		}
		out[r.Digest.Hash] = r.Data
	}
	return out, nil
}

func (rc *RemoteCache) readByteStream(ctx context.Context, d razdigest.Digest) ([]byte, error) {
	name := fmt.Sprintf("%s/blobs/%s/%d", rc.instanceName, d.Hash, d.SizeBytes)
	stream, err := rc.bs.Read(ctx, &bs.ReadRequest{ResourceName: name})
	if err != nil {
		return nil, fmt.Errorf("cache: ByteStream.Read(%s): %w", d, err)
	}
	buf := make([]byte, 0, d.SizeBytes)
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("cache: ByteStream.Read(%s): %w", d, err)
		}
		buf = append(buf, resp.Data...)
	}
	return buf, nil
}

// UploadBlobsAsync enqueues pushes of the given blobs, batched the same
// way DownloadBlobs reads them, via the background upload goroutine.
func (rc *RemoteCache) UploadBlobsAsync(blobs map[razdigest.Digest][]byte) {
	task := func(ctx context.Context) {
		if err := rc.uploadBlobs(ctx, blobs); err != nil {
			log.Warning("failed to push %d blob(s) to remote cache: %s", len(blobs), err)
		}
	}
	select {
	case rc.uploadQueue <- task:
	default:
		log.Warning("remote cache upload queue full, dropping push of %d blob(s)", len(blobs))
	}
}

func (rc *RemoteCache) uploadBlobs(ctx context.Context, blobs map[razdigest.Digest][]byte) error {
	var reqs []*pb.BatchUpdateBlobsRequest_Request
	var batchSize int64
	flush := func() error {
		if len(reqs) == 0 {
			return nil
		}
		_, err := rc.cas.BatchUpdateBlobs(ctx, &pb.BatchUpdateBlobsRequest{InstanceName: rc.instanceName, Requests: reqs})
		reqs = nil
		batchSize = 0
		return err
	}
	for d, data := range blobs {
		if d.SizeBytes > rc.maxBatchBlobSize {
			if err := rc.writeByteStream(ctx, d, data); err != nil {
				return err
			}
			continue
		}
		if batchSize+d.SizeBytes > rc.maxBatchBlobSize {
			if err := flush(); err != nil {
				return err
			}
		}
		reqs = append(reqs, &pb.BatchUpdateBlobsRequest_Request{Digest: toPbDigest(d), Data: data})
		batchSize += d.SizeBytes
	}
	return flush()
}

func (rc *RemoteCache) writeByteStream(ctx context.Context, d razdigest.Digest, data []byte) error {
	name := fmt.Sprintf("%s/uploads/%s/blobs/%s/%d", rc.instanceName, uuid.NewString(), d.Hash, d.SizeBytes)
	stream, err := rc.bs.Write(ctx)
	if err != nil {
		return fmt.Errorf("cache: ByteStream.Write(%s): %w", d, err)
	}
	const chunkSize = 1 << 20
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := stream.Send(&bs.WriteRequest{
			ResourceName: name,
			WriteOffset:  int64(offset),
			Data:         data[offset:end],
			FinishWrite:  end == len(data),
		}); err != nil {
			return fmt.Errorf("cache: ByteStream.Write(%s): %w", d, err)
		}
		name = "" // only required on the first request
	}
	_, err = stream.CloseAndRecv()
	return err
}

// flattenDirectory converts a Directory message's file list into the
// bazelbuild/remote-apis-sdks digest representation. Nothing in this
// module calls it.
func flattenDirectory(dir *pb.Directory) []rapidigest.Digest {
	out := make([]rapidigest.Digest, 0, len(dir.Files))
	for _, f := range dir.Files {
		out = append(out, rapidigest.Digest{Hash: f.Digest.Hash, Size: f.Digest.SizeBytes})
	}
	return out
}

