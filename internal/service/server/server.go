package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
	deviceRepo "e2e_trust/internal/repository/device"
	userRepo "e2e_trust/internal/repository/user"
	"e2e_trust/internal/service/redis"
	"e2e_trust/internal/utils/log"
)

type (
	HttpServer struct {
		mu     sync.Mutex
		mapper map[string]*websocket.Conn

		userRepo     *userRepo.UserRepo
		deviceRepo   *deviceRepo.DeviceRepo
		redisService *redis.RedisService
	}

	registerRequest struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}

	deviceUploadRequest struct {
		model.DeviceKeys
	}

	crossSigningUploadRequest struct {
		Auth struct {
			UserID   string `json:"user_id"`
			Password string `json:"password"`
		} `json:"auth"`
		MasterKey      *model.CrossSigningKey `json:"master_key"`
		SelfSigningKey *model.CrossSigningKey `json:"self_signing_key"`
		UserSigningKey *model.CrossSigningKey `json:"user_signing_key"`
	}

	signaturesUploadRequest struct {
		Signatures map[string]map[string]model.SignatureUpload `json:"signatures"`
	}

	queryResponse struct {
		CrossSigning *model.CrossSigningInfo `json:"cross_signing,omitempty"`
		Devices      []*model.DeviceKeys     `json:"devices,omitempty"`
	}
)

func NewHttpServer(users *userRepo.UserRepo, devices *deviceRepo.DeviceRepo, redisSvc *redis.RedisService) *HttpServer {
	return &HttpServer{
		mapper:       make(map[string]*websocket.Conn),
		userRepo:     users,
		deviceRepo:   devices,
		redisService: redisSvc,
	}
}

func (s *HttpServer) Run(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/register", s.HandleRegister()).Methods(http.MethodPost)
	r.HandleFunc("/keys/device", s.HandleDeviceUpload()).Methods(http.MethodPost)
	r.HandleFunc("/keys/cross_signing", s.HandleCrossSigningUpload()).Methods(http.MethodPost)
	r.HandleFunc("/keys/signatures", s.HandleSignaturesUpload()).Methods(http.MethodPost)
	r.HandleFunc("/keys/query/{userID}", s.HandleQueryKeys()).Methods(http.MethodGet)
	r.HandleFunc("/updates", s.HandleUpdatesWS()).Methods(http.MethodGet)
	return http.ListenAndServe(addr, r)
}

func (s *HttpServer) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Password == "" {
			http.Error(w, "invalid register request", http.StatusBadRequest)
			return
		}

		existing, err := s.userRepo.GetByUserID(ctx, req.UserID)
		if err != nil {
			log.Error("register lookup failed", zap.Error(err))
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("hash password failed", zap.Error(err))
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}

		_, err = s.userRepo.Create(ctx, &model.User{UserID: req.UserID, PasswordHash: hash})
		if err != nil {
			log.Error("create user failed", zap.Error(err))
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func (s *HttpServer) HandleDeviceUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req deviceUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.DeviceID == "" {
			http.Error(w, "invalid device upload", http.StatusBadRequest)
			return
		}

		if err := s.deviceRepo.UpsertDevice(ctx, &req.DeviceKeys); err != nil {
			log.Error("upsert device failed", zap.Error(err))
			http.Error(w, "device upload failed", http.StatusInternalServerError)
			return
		}

		s.invalidateQueryCache(ctx, req.UserID)
		s.broadcastUpdate(ctx, req.UserID, model.UpdateDevice)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleCrossSigningUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req crossSigningUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid cross-signing upload", http.StatusBadRequest)
			return
		}

		user, err := s.userRepo.GetByUserID(ctx, req.Auth.UserID)
		if err != nil {
			log.Error("auth lookup failed", zap.Error(err))
			http.Error(w, "cross-signing upload failed", http.StatusInternalServerError)
			return
		}
		if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Auth.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		info := &model.CrossSigningInfo{
			UserID:         req.Auth.UserID,
			MasterKey:      req.MasterKey,
			SelfSigningKey: req.SelfSigningKey,
			UserSigningKey: req.UserSigningKey,
		}
		if err := crosssigning.VerifyHierarchy(info); err != nil {
			http.Error(w, "hierarchy does not verify", http.StatusBadRequest)
			return
		}

		// Full replacement: any previous hierarchy and the trust derived
		// from it is gone after this point.
		if err := s.deviceRepo.ReplaceCrossSigning(ctx, info); err != nil {
			log.Error("replace cross-signing failed", zap.Error(err))
			http.Error(w, "cross-signing upload failed", http.StatusInternalServerError)
			return
		}

		s.invalidateQueryCache(ctx, info.UserID)
		s.broadcastUpdate(ctx, info.UserID, model.UpdateCrossSigning)

		log.Info("cross-signing keys replaced", zap.String("userID", info.UserID))
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleSignaturesUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req signaturesUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid signatures upload", http.StatusBadRequest)
			return
		}

		for targetUserID, targets := range req.Signatures {
			for targetID, sig := range targets {
				if err := s.storeSignature(ctx, targetUserID, targetID, sig); err != nil {
					log.Error("store signature failed",
						zap.String("targetUserID", targetUserID),
						zap.String("targetID", targetID),
						zap.Error(err))
					http.Error(w, "signature rejected", http.StatusBadRequest)
					return
				}
			}
			s.invalidateQueryCache(ctx, targetUserID)
			s.broadcastUpdate(ctx, targetUserID, model.UpdateSignature)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleQueryKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		userID := vars["userID"]
		requester := r.URL.Query().Get("requester")

		if cached, ok := s.cachedQueryResponse(ctx, userID); ok && requester != userID {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}

		info, err := s.deviceRepo.GetCrossSigning(ctx, userID)
		if err != nil {
			log.Error("query cross-signing failed", zap.Error(err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		devices, err := s.deviceRepo.GetDevicesByUser(ctx, userID)
		if err != nil {
			log.Error("query devices failed", zap.Error(err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		resp := queryResponse{CrossSigning: info, Devices: devices}
		if requester != userID && resp.CrossSigning != nil {
			// The user-signing key is only the owner's business.
			stripped := *resp.CrossSigning
			stripped.UserSigningKey = nil
			resp.CrossSigning = &stripped
		}

		data, err := json.Marshal(&resp)
		if err != nil {
			log.Error("marshal query response failed", zap.Error(err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		if requester != userID {
			s.cacheQueryResponse(ctx, userID, data)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func (s *HttpServer) HandleUpdatesWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		deviceID := r.URL.Query().Get("deviceID")
		if userID == "" || deviceID == "" {
			http.Error(w, "userID and deviceID cannot be empty", http.StatusBadRequest)
			return
		}

		key := connKey(userID, deviceID)

		s.mu.Lock()
		if _, ok := s.mapper[key]; ok {
			s.mu.Unlock()
			http.Error(w, "duplicated connection", http.StatusBadRequest)
			return
		}
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		s.mu.Lock()
		s.mapper[key] = conn
		s.mu.Unlock()

		go s.watchConn(key, conn)
		if err := s.flushQueuedUpdates(context.TODO(), userID, deviceID, conn); err != nil {
			log.Error("flush queued updates failed", zap.Error(err))
		}
	}
}

// watchConn only reads to detect the peer going away; updates flow one way.
func (s *HttpServer) watchConn(key string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug("update web socket closed", zap.Error(err))
			s.mu.Lock()
			delete(s.mapper, key)
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (s *HttpServer) broadcastUpdate(ctx context.Context, userID string, typ model.UpdateType) {
	update := &model.KeyUpdate{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   typ,
	}

	s.mu.Lock()
	for _, conn := range s.mapper {
		if err := conn.WriteJSON(update); err != nil {
			log.Error("push update failed", zap.Error(err))
		}
	}
	s.mu.Unlock()

	s.queueForOfflineDevices(ctx, update)
}

func (s *HttpServer) storeSignature(ctx context.Context, targetUserID, targetID string, sig model.SignatureUpload) error {
	signerInfo, err := s.deviceRepo.GetCrossSigning(ctx, sig.SignerUserID)
	if err != nil {
		return err
	}

	if isMasterKeyTarget(targetID) {
		// A user signature over the target's master key, made with the
		// signer's user-signing key.
		targetInfo, err := s.deviceRepo.GetCrossSigning(ctx, targetUserID)
		if err != nil {
			return err
		}
		if targetInfo == nil || targetInfo.MasterKey == nil || targetInfo.MasterKey.KeyID() != targetID {
			return errUnknownTarget(targetUserID, targetID)
		}
		if !verifySignerKey(signerInfo, sig, targetInfo.MasterKey.PublicKey) {
			return errBadUploadSignature(targetUserID, targetID)
		}
		return s.deviceRepo.AddMasterKeySignature(ctx, targetUserID, sig)
	}

	// A device signature, made with the signer's self-signing key.
	device, err := s.deviceRepo.GetDevice(ctx, targetUserID, targetID)
	if err != nil {
		return err
	}
	if device == nil {
		return errUnknownTarget(targetUserID, targetID)
	}
	if !verifySignerKey(signerInfo, sig, device.Ed25519Key) {
		return errBadUploadSignature(targetUserID, targetID)
	}
	return s.deviceRepo.AddDeviceSignature(ctx, targetUserID, targetID, sig)
}
